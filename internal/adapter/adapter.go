// Package adapter defines the fanout target contract and its concrete
// implementations: database (Postgres/SQLite), cache (Redis), an in-memory
// search-index stand-in, and an external-API transport.
package adapter

import (
	"context"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// Adapter is the contract every fanout target implements. Apply must be
// idempotent under the event's Version: applying the same event twice must
// not change the target's state the second time.
type Adapter interface {
	// Name identifies the adapter in logs, metrics labels, and
	// EntitySyncConfig.Targets.
	Name() string

	// Kind reports which of the four target categories this adapter is.
	Kind() syncmodel.AdapterKind

	// Apply propagates one event's payload to the target. Implementations
	// must classify returned errors via resilience.ClassifyAdapterError (or
	// return an already-classified error) so the engine can decide whether
	// to retry.
	Apply(ctx context.Context, event *syncmodel.SyncEvent) error

	// HealthCheck reports whether the target is currently reachable.
	HealthCheck(ctx context.Context) error
}

// CacheCapable is implemented by adapters that can additionally participate
// in cache invalidation strategies beyond plain Apply.
type CacheCapable interface {
	Adapter

	InvalidateKey(ctx context.Context, key string) error
	InvalidateByTag(ctx context.Context, tag string) error
	InvalidateByPattern(ctx context.Context, pattern string) error
	MarkStale(ctx context.Context, key string) error
	Warm(ctx context.Context, key string, value syncmodel.Payload) error
	Stats(ctx context.Context) (CacheStats, error)
}

// CacheStats mirrors the hit/miss/eviction counters the invalidator reports
// through pkg/metrics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Deletes   int64
	Evictions int64
}

// entityKey builds the stable per-entity cache/storage key used across all
// adapters, so a database row, a cache entry, and a search-index entry for
// the same entity resolve to the same identity.
func entityKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}
