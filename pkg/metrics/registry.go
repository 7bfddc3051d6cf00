// Package metrics provides centralized Prometheus metrics for the sync engine.
//
// Metrics are organized by category:
//   - Sync: events submitted/processed, conflicts detected, fanout latency
//   - Replication: cursor lag, events shipped, catch-up batches
//   - Audit: integrity check results, consistency ratios
//   - Cache: invalidation counts by strategy, provider errors
//
// All metrics follow the naming convention:
// <namespace>_<category>_<metric_name>, e.g. syncengine_sync_events_submitted_total
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Sync().EventsSubmittedTotal.WithLabelValues("order", "create").Inc()
package metrics

import (
	"sync"
)

// MetricCategory represents the category of a metric.
type MetricCategory string

const (
	CategorySync        MetricCategory = "sync"
	CategoryReplication MetricCategory = "replication"
	CategoryAudit       MetricCategory = "audit"
	CategoryCache       MetricCategory = "cache"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Provides organized access to metrics by category (Sync, Replication, Audit, Cache).
//
// Thread-safe: all Prometheus metrics are thread-safe by design.
// Singleton: use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	sync        *SyncMetrics
	replication *ReplicationMetrics
	audit       *AuditMetrics
	cache       *CacheMetrics

	syncOnce        sync.Once
	replicationOnce sync.Once
	auditOnce       sync.Once
	cacheOnce       sync.Once
}

var (
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("syncengine")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified namespace.
// For most use cases, use DefaultRegistry() instead of calling this directly.
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "syncengine"
	}

	return &MetricsRegistry{
		namespace: namespace,
	}
}

// Sync returns the Sync metrics manager. Lazy-initialized on first access.
func (r *MetricsRegistry) Sync() *SyncMetrics {
	r.syncOnce.Do(func() {
		r.sync = NewSyncMetrics(r.namespace)
	})
	return r.sync
}

// Replication returns the Replication metrics manager. Lazy-initialized on first access.
func (r *MetricsRegistry) Replication() *ReplicationMetrics {
	r.replicationOnce.Do(func() {
		r.replication = NewReplicationMetrics(r.namespace)
	})
	return r.replication
}

// Audit returns the Audit metrics manager. Lazy-initialized on first access.
func (r *MetricsRegistry) Audit() *AuditMetrics {
	r.auditOnce.Do(func() {
		r.audit = NewAuditMetrics(r.namespace)
	})
	return r.audit
}

// Cache returns the Cache metrics manager. Lazy-initialized on first access.
func (r *MetricsRegistry) Cache() *CacheMetrics {
	r.cacheOnce.Do(func() {
		r.cache = NewCacheMetrics(r.namespace)
	})
	return r.cache
}

// Namespace returns the configured namespace for this registry.
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
