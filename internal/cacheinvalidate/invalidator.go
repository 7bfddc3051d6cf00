// Package cacheinvalidate drives the cache-invalidation strategies a
// cache-capable adapter provider exposes — immediate, lazy, scheduled,
// dependency-graph, and warm — against a registry of providers keyed by
// name.
package cacheinvalidate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
	"github.com/vitaliisemenov/syncengine/pkg/metrics"
)

// scheduledNamespace is the eventstore side-value namespace the scheduled
// strategy persists pending keys under, so a crash between enqueue and
// sweep does not lose them.
const scheduledNamespace = "cache_scheduled"

// Invalidator drives cache invalidation against a registry of named
// providers, using each entity type's EntitySyncConfig to decide which
// strategies apply and which other entity types depend on it.
type Invalidator struct {
	mu        sync.RWMutex
	providers map[string]adapter.CacheCapable
	configs   map[string]syncmodel.EntitySyncConfig

	store   eventstore.Store
	metrics *metrics.CacheMetrics
	logger  *slog.Logger
}

// New builds an Invalidator. metricsReg and logger may be nil.
func New(store eventstore.Store, metricsReg *metrics.CacheMetrics, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsReg == nil {
		metricsReg = metrics.DefaultRegistry().Cache()
	}
	return &Invalidator{
		providers: make(map[string]adapter.CacheCapable),
		configs:   make(map[string]syncmodel.EntitySyncConfig),
		store:     store,
		metrics:   metricsReg,
		logger:    logger,
	}
}

// RegisterProvider adds a cache provider to the registry. Providers are
// written once at startup and read concurrently thereafter.
func (inv *Invalidator) RegisterProvider(name string, provider adapter.CacheCapable) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.providers[name] = provider
}

// RegisterEntityConfig records an entity type's sync config, used to look
// up its cache strategy and dependency list during Invalidate.
func (inv *Invalidator) RegisterEntityConfig(cfg syncmodel.EntitySyncConfig) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.configs[cfg.EntityType] = cfg
}

func (inv *Invalidator) providerList() map[string]adapter.CacheCapable {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make(map[string]adapter.CacheCapable, len(inv.providers))
	for k, v := range inv.providers {
		out[k] = v
	}
	return out
}

func (inv *Invalidator) entityConfig(entityType string) (syncmodel.EntitySyncConfig, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	cfg, ok := inv.configs[entityType]
	return cfg, ok
}

// Invalidate applies every enabled strategy in cfg to event's entity key
// across all registered providers, in the order: immediate, lazy,
// scheduled, dependencies, warm. Per-provider errors are logged and
// counted but do not stop invalidation against the remaining providers.
func (inv *Invalidator) Invalidate(ctx context.Context, event *syncmodel.SyncEvent, cfg syncmodel.CacheInvalidationConfig) error {
	key := event.EntityType + ":" + event.EntityID
	providers := inv.providerList()

	if cfg.Immediate {
		inv.invalidateKeyAll(ctx, providers, key)
		inv.invalidateTagAll(ctx, providers, event.EntityType)
	}

	if cfg.Lazy {
		for name, p := range providers {
			if err := p.MarkStale(ctx, key); err != nil {
				inv.onProviderError(name, err)
			}
		}
	}

	if cfg.Scheduled {
		if err := inv.store.PutSideValue(ctx, scheduledNamespace, key, key); err != nil {
			return fmt.Errorf("cacheinvalidate: persist scheduled key %s: %w", key, err)
		}
	}

	if len(cfg.Dependencies) > 0 {
		visited := make(map[string]bool)
		inv.invalidateDependencies(ctx, providers, event.EntityType, visited)
	}

	if cfg.Warm {
		for name, p := range providers {
			if err := p.Warm(ctx, key, event.Payload); err != nil {
				inv.onProviderError(name, err)
				continue
			}
			inv.metrics.WarmedKeysTotal.WithLabelValues(name).Inc()
		}
	}

	return nil
}

func (inv *Invalidator) invalidateKeyAll(ctx context.Context, providers map[string]adapter.CacheCapable, key string) {
	for name, p := range providers {
		if err := p.InvalidateKey(ctx, key); err != nil {
			inv.onProviderError(name, err)
			continue
		}
		inv.metrics.InvalidationsTotal.WithLabelValues("immediate", name).Inc()
	}
}

func (inv *Invalidator) invalidateTagAll(ctx context.Context, providers map[string]adapter.CacheCapable, tag string) {
	for name, p := range providers {
		if err := p.InvalidateByTag(ctx, tag); err != nil {
			inv.onProviderError(name, err)
			continue
		}
		inv.metrics.InvalidationsTotal.WithLabelValues("tag", name).Inc()
	}
}

// invalidateDependencies walks entityType's Dependencies list, invalidating
// every dependent entity type by tag and recursing into its own
// dependencies. visited guards against cycles in the dependency graph.
func (inv *Invalidator) invalidateDependencies(ctx context.Context, providers map[string]adapter.CacheCapable, entityType string, visited map[string]bool) {
	if visited[entityType] {
		return
	}
	visited[entityType] = true

	cfg, ok := inv.entityConfig(entityType)
	if !ok {
		return
	}

	for _, dep := range cfg.Cache.Dependencies {
		inv.invalidateTagAll(ctx, providers, dep)
		inv.invalidateDependencies(ctx, providers, dep, visited)
	}
}

func (inv *Invalidator) onProviderError(provider string, err error) {
	inv.metrics.ProviderErrorsTotal.WithLabelValues(provider).Inc()
	inv.logger.Warn("cache provider invalidation failed", "provider", provider, "error", err)
}

const bulkBatchSize = 100

// InvalidateBulk applies cfg to every event in events, in batches of 100.
// A failure invalidating one event does not stop the rest of its batch or
// later batches; callers get back the events that failed.
func (inv *Invalidator) InvalidateBulk(ctx context.Context, events []*syncmodel.SyncEvent, cfg syncmodel.CacheInvalidationConfig) []*syncmodel.SyncEvent {
	var failed []*syncmodel.SyncEvent

	for start := 0; start < len(events); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(events) {
			end = len(events)
		}
		for _, ev := range events[start:end] {
			if err := inv.Invalidate(ctx, ev, cfg); err != nil {
				inv.logger.Warn("bulk cache invalidation failed for event", "event_id", ev.ID, "error", err)
				failed = append(failed, ev)
			}
		}
	}

	return failed
}

