// Package syncengine orchestrates one SyncEvent's full lifecycle: claim
// from the event store, detect and resolve conflicts against the last
// known state, fan out to every configured adapter, invalidate caches,
// hand off to cross-region replication, and record the terminal outcome.
// The worker pool shape mirrors a bounded job-queue processor: a fixed
// number of workers pull claimed events off a channel and process them to
// completion or retry.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/cacheinvalidate"
	"github.com/vitaliisemenov/syncengine/internal/conflict"
	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/replication"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
	"github.com/vitaliisemenov/syncengine/pkg/metrics"
)

// Replicator is the subset of *replication.Replicator the engine depends
// on, so tests can stub it out without wiring a transport.
type Replicator interface {
	Replicate(ctx context.Context, event *syncmodel.SyncEvent) error
}

var _ Replicator = (*replication.Replicator)(nil)

// Engine drives event processing for every entity type registered with
// it, dispatching claimed events across a bounded worker pool.
type Engine struct {
	mu      sync.RWMutex
	configs map[string]syncmodel.EntitySyncConfig
	targets map[string][]adapter.Adapter // entity type -> configured adapters, in Targets order

	store       eventstore.Store
	resolver    *conflict.Resolver
	invalidator *cacheinvalidate.Invalidator
	replicator  Replicator
	metrics     *metrics.SyncMetrics
	logger      *slog.Logger

	workers        int
	pollInterval   time.Duration
	dequeueLimit   int
	processTimeout time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// Config configures an Engine's dependencies and concurrency.
type Config struct {
	Store       eventstore.Store
	Resolver    *conflict.Resolver
	Invalidator *cacheinvalidate.Invalidator
	Replicator  Replicator
	Metrics     *metrics.SyncMetrics
	Logger      *slog.Logger

	Workers        int           // 1-10, default 3
	PollInterval   time.Duration // default 500ms
	DequeueLimit   int           // default 50
	ProcessTimeout time.Duration // default 30s, overridden per entity type
}

// New builds an Engine, not yet started.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("syncengine: store is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = conflict.NewResolver()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.DefaultRegistry().Sync()
	}
	if cfg.Workers < 1 || cfg.Workers > 10 {
		cfg.Workers = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.DequeueLimit <= 0 {
		cfg.DequeueLimit = 50
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}

	return &Engine{
		configs:        make(map[string]syncmodel.EntitySyncConfig),
		targets:        make(map[string][]adapter.Adapter),
		store:          cfg.Store,
		resolver:       cfg.Resolver,
		invalidator:    cfg.Invalidator,
		replicator:     cfg.Replicator,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		workers:        cfg.Workers,
		pollInterval:   cfg.PollInterval,
		dequeueLimit:   cfg.DequeueLimit,
		processTimeout: cfg.ProcessTimeout,
		stopChan:       make(chan struct{}),
	}, nil
}

// RegisterEntityConfig records an entity type's sync config, and also
// forwards it to the invalidator and replicator so their own registries
// stay in sync with the engine's.
func (e *Engine) RegisterEntityConfig(cfg syncmodel.EntitySyncConfig) {
	e.mu.Lock()
	e.configs[cfg.EntityType] = cfg
	e.mu.Unlock()

	if e.invalidator != nil {
		e.invalidator.RegisterEntityConfig(cfg)
	}
	if r, ok := e.replicator.(*replication.Replicator); ok {
		r.RegisterEntityConfig(cfg)
	}
}

// RegisterAdapter attaches an adapter as a fanout target for an entity
// type. Adapters are applied in registration order.
func (e *Engine) RegisterAdapter(entityType string, a adapter.Adapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.targets[entityType] = append(e.targets[entityType], a)
}

func (e *Engine) entityConfig(entityType string) (syncmodel.EntitySyncConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[entityType]
	return cfg, ok
}

func (e *Engine) adaptersFor(entityType string) []adapter.Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]adapter.Adapter, len(e.targets[entityType]))
	copy(out, e.targets[entityType])
	return out
}

// Submit appends a single event to the store, returning its assigned
// version.
func (e *Engine) Submit(ctx context.Context, event *syncmodel.SyncEvent) (int64, error) {
	if _, ok := e.entityConfig(event.EntityType); !ok {
		return 0, fmt.Errorf("syncengine: no config registered for entity type %q", event.EntityType)
	}
	if err := e.store.Append(ctx, event); err != nil {
		return 0, fmt.Errorf("syncengine: submit: %w", err)
	}
	e.metrics.EventsSubmittedTotal.WithLabelValues(event.EntityType, string(event.Kind)).Inc()
	return event.Version, nil
}

const bulkSubmitBatchSize = 100

// BulkResult reports one event's outcome from a SubmitBulk call.
type BulkResult struct {
	EventID string
	Version int64
	Err     error
}

// SubmitBulk appends events in batches of 100, collecting a per-event
// result so the caller can tell which of a large batch failed without
// stopping the rest.
func (e *Engine) SubmitBulk(ctx context.Context, events []*syncmodel.SyncEvent) []BulkResult {
	results := make([]BulkResult, len(events))
	for start := 0; start < len(events); start += bulkSubmitBatchSize {
		end := start + bulkSubmitBatchSize
		if end > len(events) {
			end = len(events)
		}
		for i := start; i < end; i++ {
			version, err := e.Submit(ctx, events[i])
			results[i] = BulkResult{EventID: events[i].ID, Version: version, Err: err}
		}
	}
	return results
}

// Start launches the worker pool and the dequeue-poll loop. Safe to call
// only once; a second call returns an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("syncengine: already running")
	}
	e.running = true
	e.mu.Unlock()

	jobs := make(chan *syncmodel.SyncEvent, e.dequeueLimit)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i, jobs)
	}

	e.wg.Add(1)
	go e.pollLoop(ctx, jobs)

	e.logger.Info("sync engine started", "workers", e.workers, "poll_interval", e.pollInterval)
	return nil
}

// Stop signals the poll loop and workers to drain and wait for them to
// finish, up to 30 seconds.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("syncengine: not running")
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopChan)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("sync engine stopped gracefully")
		return nil
	case <-time.After(30 * time.Second):
		e.logger.Warn("sync engine stop timed out; some events may be left processing")
		return fmt.Errorf("syncengine: stop timeout after 30 seconds")
	}
}

func (e *Engine) pollLoop(ctx context.Context, jobs chan<- *syncmodel.SyncEvent) {
	defer e.wg.Done()
	defer close(jobs)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			claimed, err := e.store.Dequeue(ctx, e.dequeueLimit)
			if err != nil {
				e.logger.Error("dequeue failed", "error", err)
				continue
			}
			e.metrics.QueueDepth.Set(float64(len(claimed)))
			for _, ev := range claimed {
				select {
				case jobs <- ev:
				case <-ctx.Done():
					return
				case <-e.stopChan:
					return
				}
			}
		}
	}
}

func (e *Engine) worker(ctx context.Context, id int, jobs <-chan *syncmodel.SyncEvent) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case event, ok := <-jobs:
			if !ok {
				return
			}
			e.processEvent(ctx, event, id)
		}
	}
}

func (e *Engine) processEvent(ctx context.Context, event *syncmodel.SyncEvent, workerID int) {
	start := time.Now()

	cfg, ok := e.entityConfig(event.EntityType)
	if !ok {
		e.failPermanently(ctx, event, fmt.Errorf("no config registered for entity type %q", event.EntityType))
		return
	}

	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = e.processTimeout
	}
	procCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := "completed"
	err := e.runPipeline(procCtx, event, cfg)
	if err != nil {
		if resilience.IsPermanent(err) {
			outcome = "failed"
			e.failPermanently(ctx, event, err)
		} else {
			outcome = "retrying"
			e.retry(ctx, event, err)
		}
	} else {
		if compErr := e.store.Complete(ctx, event.ID); compErr != nil {
			e.logger.Error("failed to mark event completed", "event_id", event.ID, "error", compErr)
		}
	}

	e.metrics.ProcessingDuration.WithLabelValues(event.EntityType).Observe(time.Since(start).Seconds())
	e.metrics.EventsProcessedTotal.WithLabelValues(event.EntityType, outcome).Inc()
}

// runPipeline performs the per-event sequence: conflict check, fanout,
// cache invalidation, and replication. Any adapter the config marks
// Required fails the whole event on error; non-required adapter failures
// are logged but don't block the rest of the pipeline.
func (e *Engine) runPipeline(ctx context.Context, event *syncmodel.SyncEvent, cfg syncmodel.EntitySyncConfig) error {
	latest, err := e.store.LatestVersion(ctx, event.EntityType, event.EntityID)
	if err != nil {
		return resilience.Transient("load_latest_version", err)
	}

	if err := e.handleConflict(ctx, event, cfg, latest); err != nil {
		return err
	}

	writeOK, permErr := e.fanout(ctx, event, cfg)
	if permErr != nil {
		return permErr
	}

	if writeOK && e.invalidator != nil {
		if err := e.invalidator.Invalidate(ctx, event, cfg.Cache); err != nil {
			e.logger.Warn("cache invalidation failed", "event_id", event.ID, "error", err)
		}
	}

	if writeOK && e.replicator != nil && len(cfg.Replication.Regions) > 0 {
		if err := e.replicator.Replicate(ctx, event); err != nil {
			e.logger.Warn("replication failed", "event_id", event.ID, "error", err)
		}
	}

	return nil
}

// handleConflict detects a conflict against the entity's last recorded
// version and current payload and, if found, resolves it and overwrites
// the event's payload with the resolved one so every downstream adapter
// applies the same value. The ConflictRecord is persisted whether or not
// resolution succeeded: StrategyManual and a failed custom resolver both
// leave the event permanently failed, with the record carrying the
// outcome for an operator or auditor to inspect.
func (e *Engine) handleConflict(ctx context.Context, event *syncmodel.SyncEvent, cfg syncmodel.EntitySyncConfig, latest int64) error {
	existing, existsErr := e.currentPayload(ctx, event, cfg)
	if existsErr != nil {
		return existsErr
	}

	det := conflict.Detect(event, latest, existing, cfg.CriticalFields)
	if !det.Conflicted {
		return nil
	}

	e.metrics.ConflictsTotal.WithLabelValues(event.EntityType, string(det.Kind)).Inc()

	rec, resolveErr := e.resolver.Resolve(event, existing, det, cfg, nil)
	if err := e.store.SaveConflict(ctx, rec); err != nil {
		return resilience.Transient("save_conflict", err)
	}
	if resolveErr != nil {
		return resilience.Permanent("resolve_conflict", resolveErr)
	}

	event.Payload = rec.ResolvedPayload
	return nil
}

// currentPayload reads the entity's current payload from the first
// adapter configured for its entity type that is a database kind, since
// that is the system of record a conflicting write is checked against.
func (e *Engine) currentPayload(ctx context.Context, event *syncmodel.SyncEvent, cfg syncmodel.EntitySyncConfig) (syncmodel.Payload, error) {
	for _, a := range e.adaptersFor(event.EntityType) {
		if a.Kind() != syncmodel.AdapterDatabase {
			continue
		}
		reader, ok := a.(interface {
			Read(ctx context.Context, entityType, entityID string) (syncmodel.Payload, error)
		})
		if !ok {
			continue
		}
		payload, err := reader.Read(ctx, event.EntityType, event.EntityID)
		if err != nil {
			if errors.Is(err, adapter.ErrNotFound) {
				return nil, nil
			}
			return nil, resilience.Transient("read_current_payload", err)
		}
		return payload, nil
	}
	return event.Previous, nil
}

// fanout applies event to every configured adapter in order. writeOK
// reports whether at least one adapter successfully wrote the event,
// which gates whether cache invalidation and replication run. A Required
// target's error is returned immediately as the pipeline's terminal
// error; a non-required target's error is logged.
func (e *Engine) fanout(ctx context.Context, event *syncmodel.SyncEvent, cfg syncmodel.EntitySyncConfig) (writeOK bool, permErr error) {
	targets := e.adaptersFor(event.EntityType)
	required := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		required[t.Name] = t.Required
	}

	for _, a := range targets {
		if a.Kind() == syncmodel.AdapterReadOnly {
			continue
		}

		start := time.Now()
		err := a.Apply(ctx, event)
		e.metrics.FanoutDuration.WithLabelValues(event.EntityType, a.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			classified := resilience.ClassifyAdapterError(err)
			if required[a.Name()] {
				return writeOK, classified
			}
			e.logger.Warn("non-required adapter failed", "adapter", a.Name(), "event_id", event.ID, "error", classified)
			continue
		}

		writeOK = true
	}

	return writeOK, nil
}

func (e *Engine) failPermanently(ctx context.Context, event *syncmodel.SyncEvent, err error) {
	e.logger.Error("event failed permanently", "event_id", event.ID, "entity_type", event.EntityType, "error", err)
	if failErr := e.store.FailPermanently(ctx, event.ID, err); failErr != nil {
		e.logger.Error("failed to record permanent failure", "event_id", event.ID, "error", failErr)
	}
	e.metrics.EventsFailedTotal.WithLabelValues(event.EntityType, "permanent").Inc()
}

func (e *Engine) retry(ctx context.Context, event *syncmodel.SyncEvent, err error) {
	if failErr := e.store.Fail(ctx, event.ID, err); failErr != nil {
		e.logger.Error("failed to record retry", "event_id", event.ID, "error", failErr)
	}
	if !event.CanRetry() {
		e.metrics.EventsFailedTotal.WithLabelValues(event.EntityType, "retries_exhausted").Inc()
		return
	}
	e.metrics.RetryAttemptsTotal.WithLabelValues(event.EntityType).Inc()
}
