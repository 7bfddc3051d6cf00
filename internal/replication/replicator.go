// Package replication ships completed SyncEvents to every other configured
// region for an entity type, tracks ReplicationCursors, and runs catch-up
// when a paused cursor is resumed or CatchUp is called.
//
// Cursors are looked up and stored by (target region, entity type) only: a
// cursor records the source region of the event that created it, and events
// from any source region advance the same cursor. The lag monitor updates
// lag and logs a warning; it does not start catch-up, and no periodic
// catch-up sweep runs.
package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
	"github.com/vitaliisemenov/syncengine/pkg/metrics"
)

// Replicator drives cross-region replication for every entity type
// registered with it.
type Replicator struct {
	mu      sync.RWMutex
	configs map[string]syncmodel.EntitySyncConfig

	store     eventstore.Store
	transport Transport
	metrics   *metrics.ReplicationMetrics
	logger    *slog.Logger

	workers int
}

// New builds a Replicator. workers bounds the per-event fan-out
// concurrency across target regions (1-10, default 3, mirroring the sync
// engine's own worker pool bound). metricsReg and logger may be nil.
func New(store eventstore.Store, transport Transport, workers int, metricsReg *metrics.ReplicationMetrics, logger *slog.Logger) *Replicator {
	if workers < 1 || workers > 10 {
		workers = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metricsReg == nil {
		metricsReg = metrics.DefaultRegistry().Replication()
	}
	return &Replicator{
		configs:   make(map[string]syncmodel.EntitySyncConfig),
		store:     store,
		transport: transport,
		metrics:   metricsReg,
		logger:    logger,
		workers:   workers,
	}
}

// RegisterEntityConfig records an entity type's replication config.
func (r *Replicator) RegisterEntityConfig(cfg syncmodel.EntitySyncConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.EntityType] = cfg
}

func (r *Replicator) entityConfig(entityType string) (syncmodel.EntitySyncConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[entityType]
	return cfg, ok
}

func (r *Replicator) allConfigs() []syncmodel.EntitySyncConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]syncmodel.EntitySyncConfig, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	return out
}

// Replicate ships a completed event to every configured target region
// other than its origin region, fanning out across up to r.workers
// goroutines. Each target's cursor is advanced independently on success.
func (r *Replicator) Replicate(ctx context.Context, event *syncmodel.SyncEvent) error {
	cfg, ok := r.entityConfig(event.EntityType)
	if !ok || len(cfg.Replication.Regions) == 0 {
		return nil
	}

	p := pool.New().WithMaxGoroutines(r.workers).WithErrors().WithContext(ctx).WithCancelOnError()
	for _, region := range cfg.Replication.Regions {
		if region == event.Region {
			continue
		}
		region := region
		p.Go(func(ctx context.Context) error {
			return r.replicateOne(ctx, event, region)
		})
	}
	return p.Wait()
}

func (r *Replicator) replicateOne(ctx context.Context, event *syncmodel.SyncEvent, region string) error {
	start := time.Now()
	err := r.transport.Ship(ctx, Message{TargetRegion: region, Event: event})
	r.metrics.TransportDuration.WithLabelValues(region).Observe(time.Since(start).Seconds())

	cursor, getErr := r.store.GetCursor(ctx, region, event.EntityType)
	if getErr != nil && getErr != eventstore.ErrNotFound {
		return fmt.Errorf("replication: load cursor %s/%s: %w", region, event.EntityType, getErr)
	}
	if cursor == nil {
		cursor = &syncmodel.ReplicationCursor{
			Region:       region,
			SourceRegion: event.Region,
			EntityType:   event.EntityType,
			State:        syncmodel.CursorActive,
		}
	}

	if err != nil {
		cursor.FailedCount++
		cursor.State = syncmodel.CursorError
		cursor.LastError = err.Error()
		cursor.UpdatedAt = time.Now().UTC()
		if saveErr := r.store.SaveCursor(ctx, cursor); saveErr != nil {
			r.logger.Error("failed to persist cursor after ship failure", "region", region, "entity_type", event.EntityType, "error", saveErr)
		}
		r.metrics.ShipErrorsTotal.WithLabelValues(region, errorKind(err)).Inc()
		return err
	}

	cursor.Position = event.Version
	cursor.State = syncmodel.CursorActive
	cursor.LagSeconds = 0
	cursor.LastError = ""
	cursor.UpdatedAt = time.Now().UTC()
	if saveErr := r.store.SaveCursor(ctx, cursor); saveErr != nil {
		return fmt.Errorf("replication: persist cursor %s/%s: %w", region, event.EntityType, saveErr)
	}
	r.metrics.EventsShippedTotal.WithLabelValues(region, event.EntityType).Inc()
	return nil
}

func errorKind(err error) string {
	if resilience.IsTransient(err) {
		return "transient"
	}
	if resilience.IsPermanent(err) {
		return "permanent"
	}
	return "unknown"
}

// Pause transitions a cursor to paused, halting per-event replication for
// that (region, entity type) until Resume is called.
func (r *Replicator) Pause(ctx context.Context, region, entityType string) error {
	cursor, err := r.store.GetCursor(ctx, region, entityType)
	if err != nil {
		return fmt.Errorf("replication: pause %s/%s: %w", region, entityType, err)
	}
	cursor.State = syncmodel.CursorPaused
	cursor.UpdatedAt = time.Now().UTC()
	return r.store.SaveCursor(ctx, cursor)
}

// Resume transitions a cursor back to active and immediately triggers
// catch-up.
func (r *Replicator) Resume(ctx context.Context, region, entityType string) error {
	cursor, err := r.store.GetCursor(ctx, region, entityType)
	if err != nil {
		return fmt.Errorf("replication: resume %s/%s: %w", region, entityType, err)
	}
	cursor.State = syncmodel.CursorActive
	cursor.UpdatedAt = time.Now().UTC()
	if err := r.store.SaveCursor(ctx, cursor); err != nil {
		return err
	}
	return r.CatchUp(ctx, region, entityType)
}

// CatchUp fetches every event for entityType with version greater than the
// cursor's current position, in batches up to the entity's configured
// CatchUpBatchSize, and replicates them in order, stopping at the first
// failure to preserve ordering.
func (r *Replicator) CatchUp(ctx context.Context, region, entityType string) error {
	cfg, ok := r.entityConfig(entityType)
	if !ok {
		return fmt.Errorf("replication: no config registered for entity type %q", entityType)
	}
	batchSize := cfg.Replication.CatchUpBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	cursor, err := r.store.GetCursor(ctx, region, entityType)
	if err != nil && err != eventstore.ErrNotFound {
		return fmt.Errorf("replication: catch-up load cursor %s/%s: %w", region, entityType, err)
	}
	var after int64
	if cursor != nil {
		after = cursor.Position
	}

	for {
		events, err := r.store.EventsSince(ctx, entityType, after, batchSize)
		if err != nil {
			return fmt.Errorf("replication: catch-up fetch events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		for _, ev := range events {
			if ev.Region == region {
				after = ev.Version
				continue
			}
			if shipErr := r.replicateOne(ctx, ev, region); shipErr != nil {
				return fmt.Errorf("replication: catch-up stopped at version %d: %w", ev.Version, shipErr)
			}
			after = ev.Version
		}
		r.metrics.CatchUpBatchesTotal.WithLabelValues(region).Inc()

		if len(events) < batchSize {
			return nil
		}
	}
}

// MonitorLag runs until ctx is cancelled, recomputing every configured
// entity type's per-region cursor lag every five minutes and flagging any
// cursor whose lag exceeds its entity type's MaxLagSeconds.
func (r *Replicator) MonitorLag(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkLag(ctx)
		}
	}
}

func (r *Replicator) checkLag(ctx context.Context) {
	now := time.Now().UTC()
	for _, cfg := range r.allConfigs() {
		for _, region := range cfg.Replication.Regions {
			cursor, err := r.store.GetCursor(ctx, region, cfg.EntityType)
			if err != nil {
				if err != eventstore.ErrNotFound {
					r.logger.Warn("lag monitor failed to load cursor", "region", region, "entity_type", cfg.EntityType, "error", err)
				}
				continue
			}
			if cursor.State != syncmodel.CursorActive {
				continue
			}

			lag := now.Sub(cursor.UpdatedAt).Seconds()
			cursor.LagSeconds = lag
			r.metrics.CursorLag.WithLabelValues(region).Set(lag)

			threshold := cfg.Replication.MaxLagSeconds
			if threshold <= 0 {
				threshold = 300
			}
			if lag > threshold {
				r.logger.Warn("replication lag exceeds threshold",
					"region", region, "entity_type", cfg.EntityType,
					"lag_seconds", lag, "threshold_seconds", threshold)
			}

			if saveErr := r.store.SaveCursor(ctx, cursor); saveErr != nil {
				r.logger.Error("failed to persist lag update", "region", region, "entity_type", cfg.EntityType, "error", saveErr)
			}
		}
	}
}
