package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	infracache "github.com/vitaliisemenov/syncengine/internal/infrastructure/cache"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// CacheAdapter fans an event's payload out to a Redis-backed cache and
// implements CacheCapable so the cache invalidator can drive it directly.
type CacheAdapter struct {
	name   string
	client infracache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCacheAdapter wraps an already-constructed cache client (in
// cmd/syncengine, an *infracache.TieredCache) with the default entry TTL
// applied on Apply/Warm.
func NewCacheAdapter(name string, client infracache.Cache, ttl time.Duration, logger *slog.Logger) *CacheAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheAdapter{name: name, client: client, ttl: ttl, logger: logger}
}

func (c *CacheAdapter) Name() string               { return c.name }
func (c *CacheAdapter) Kind() syncmodel.AdapterKind { return syncmodel.AdapterCache }

func (c *CacheAdapter) Apply(ctx context.Context, event *syncmodel.SyncEvent) error {
	key := entityKey(event.EntityType, event.EntityID)

	if event.Kind == syncmodel.EventDelete {
		if err := c.client.Delete(ctx, key); err != nil {
			return resilience.ClassifyAdapterError(fmt.Errorf("cache delete %s: %w", key, err))
		}
		return nil
	}

	if err := c.client.Set(ctx, key, event.Payload, c.ttl); err != nil {
		return resilience.ClassifyAdapterError(fmt.Errorf("cache set %s: %w", key, err))
	}
	return nil
}

func (c *CacheAdapter) HealthCheck(ctx context.Context) error {
	if err := c.client.HealthCheck(ctx); err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	return nil
}

func (c *CacheAdapter) InvalidateKey(ctx context.Context, key string) error {
	if err := c.client.Delete(ctx, key); err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	return nil
}

// InvalidateByTag drops every key tracked in the tag's SET, used by
// dependency-based invalidation (§4.4).
func (c *CacheAdapter) InvalidateByTag(ctx context.Context, tag string) error {
	tagKey := "tag:" + tag
	members, err := c.client.SMembers(ctx, tagKey)
	if err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	for _, m := range members {
		if err := c.client.Delete(ctx, m); err != nil {
			c.logger.Warn("cache invalidate-by-tag: failed to delete member", "tag", tag, "key", m, "error", err)
		}
	}
	return nil
}

// InvalidateByPattern is not supported by the generic Cache interface
// (which exposes no SCAN); it is implemented by providers that expose a
// native client, falling back to a permanent "unsupported" error otherwise.
func (c *CacheAdapter) InvalidateByPattern(ctx context.Context, pattern string) error {
	type patternInvalidator interface {
		InvalidatePattern(ctx context.Context, pattern string) error
	}
	if pi, ok := c.client.(patternInvalidator); ok {
		if err := pi.InvalidatePattern(ctx, pattern); err != nil {
			return resilience.ClassifyAdapterError(err)
		}
		return nil
	}
	return resilience.Permanent("cache_invalidate_by_pattern",
		fmt.Errorf("provider %s does not support pattern invalidation", c.name))
}

// MarkStale sets a short TTL on the key instead of deleting it, used by the
// lazy invalidation strategy so a stale read is still possible until the
// background sweep or next write clears it.
func (c *CacheAdapter) MarkStale(ctx context.Context, key string) error {
	if err := c.client.Expire(ctx, key, time.Second); err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	return nil
}

func (c *CacheAdapter) Warm(ctx context.Context, key string, value syncmodel.Payload) error {
	if err := c.client.Set(ctx, key, value, c.ttl); err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	return nil
}

// statsProvider is implemented by cache clients that expose GetStats beyond
// the generic Cache interface. *infrastructure/cache.TieredCache reports
// hit/miss counters as "l1_hits"/"l1_misses"; *infrastructure/cache.RedisCache
// reports pool and health figures only, so its Stats hit/miss counts are zero.
type statsProvider interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

func (c *CacheAdapter) Stats(ctx context.Context) (CacheStats, error) {
	sp, ok := c.client.(statsProvider)
	if !ok {
		return CacheStats{}, nil
	}
	raw, err := sp.GetStats(ctx)
	if err != nil {
		return CacheStats{}, resilience.ClassifyAdapterError(err)
	}
	stats := CacheStats{}
	if v, ok := raw["hits"].(int64); ok {
		stats.Hits = v
	} else if v, ok := raw["l1_hits"].(int64); ok {
		stats.Hits = v
	}
	if v, ok := raw["misses"].(int64); ok {
		stats.Misses = v
	} else if v, ok := raw["l1_misses"].(int64); ok {
		stats.Misses = v
	}
	return stats, nil
}
