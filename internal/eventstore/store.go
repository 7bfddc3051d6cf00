// Package eventstore is the append-only log of SyncEvents: it assigns each
// event a monotonic version per entity, tracks processing status, and
// serializes access so only one event per (entity-type, entity-id) is
// being processed at a time.
package eventstore

import (
	"context"
	"errors"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// ErrNotFound is returned when an event or conflict record lookup fails.
var ErrNotFound = errors.New("eventstore: not found")

// ErrAlreadyProcessing reports that another event for the same entity is
// already in StatusProcessing. Neither Store implementation returns it:
// Dequeue skips such events instead.
var ErrAlreadyProcessing = errors.New("eventstore: entity already processing")

// Store is the event log contract. Implementations: PostgresStore (durable,
// used in production) and MemoryStore (tests, single-process deployments).
type Store interface {
	// Append assigns a version to event (wall-clock-ms*1000 + sequence,
	// unique and increasing per entity-type+entity-id) and persists it in
	// StatusPending. The caller's event.Version is overwritten.
	Append(ctx context.Context, event *syncmodel.SyncEvent) error

	// Dequeue claims up to limit pending/retrying events ordered by
	// submit time, skipping any entity key already StatusProcessing, and
	// transitions the claimed events to StatusProcessing. Returns fewer
	// than limit if none are available.
	Dequeue(ctx context.Context, limit int) ([]*syncmodel.SyncEvent, error)

	// Complete marks an event StatusCompleted.
	Complete(ctx context.Context, eventID string) error

	// Fail marks an event StatusFailed (attempts exhausted) or
	// StatusRetrying (attempts remain) depending on CanRetry, recording
	// lastErr and incrementing AttemptCount.
	Fail(ctx context.Context, eventID string, lastErr error) error

	// FailPermanently marks an event StatusFailed unconditionally,
	// regardless of attempts remaining, for errors the engine has
	// classified as non-retryable (missing config, unresolved conflict
	// policy, malformed payload).
	FailPermanently(ctx context.Context, eventID string, lastErr error) error

	// Get retrieves a single event by ID.
	Get(ctx context.Context, eventID string) (*syncmodel.SyncEvent, error)

	// LatestVersion returns the highest version recorded for an entity, or
	// 0 if the entity has never been synced.
	LatestVersion(ctx context.Context, entityType, entityID string) (int64, error)

	// SaveConflict persists a ConflictRecord.
	SaveConflict(ctx context.Context, conflict *syncmodel.ConflictRecord) error

	// GetConflict retrieves a ConflictRecord by the event ID that produced it.
	GetConflict(ctx context.Context, eventID string) (*syncmodel.ConflictRecord, error)

	// EventsSince returns up to limit events for entityType with version >
	// afterVersion, ordered by version ascending — the primitive the
	// replicator's catch-up uses.
	EventsSince(ctx context.Context, entityType string, afterVersion int64, limit int) ([]*syncmodel.SyncEvent, error)

	// SaveCursor persists a ReplicationCursor.
	SaveCursor(ctx context.Context, cursor *syncmodel.ReplicationCursor) error

	// GetCursor retrieves a region's cursor for an entity type.
	GetCursor(ctx context.Context, region, entityType string) (*syncmodel.ReplicationCursor, error)

	// PutSideValue persists an opaque string value under a namespaced key,
	// used by the cache invalidator's scheduled-set and other small pieces
	// of state that don't warrant their own table.
	PutSideValue(ctx context.Context, namespace, key, value string) error

	// GetSideValue retrieves a value saved with PutSideValue.
	GetSideValue(ctx context.Context, namespace, key string) (string, error)

	// DeleteSideValue removes a value saved with PutSideValue.
	DeleteSideValue(ctx context.Context, namespace, key string) error

	// ListSideValues returns all key/value pairs in a namespace.
	ListSideValues(ctx context.Context, namespace string) (map[string]string, error)

	// SaveIntegrityCheck persists the outcome of one auditor run.
	SaveIntegrityCheck(ctx context.Context, check *syncmodel.IntegrityCheck) error

	// RecentIntegrityChecks returns the most recent checks for an entity
	// type and kind, newest first, capped at limit.
	RecentIntegrityChecks(ctx context.Context, entityType string, kind syncmodel.IntegrityCheckKind, limit int) ([]*syncmodel.IntegrityCheck, error)
}
