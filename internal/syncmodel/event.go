package syncmodel

import "time"

// EventKind classifies the mutation a SyncEvent carries.
type EventKind string

const (
	EventCreate     EventKind = "create"
	EventUpdate     EventKind = "update"
	EventDelete     EventKind = "delete"
	EventBulkUpdate EventKind = "bulk-update"
)

// EventStatus tracks a SyncEvent through its processing lifecycle.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
	StatusRetrying   EventStatus = "retrying"
)

// SyncEvent is a single entity mutation flowing through the engine.
type SyncEvent struct {
	ID         string
	EntityType string
	EntityID   string
	Kind       EventKind
	Source     string
	Region     string

	Payload  Payload
	Previous Payload // nil for EventCreate

	Version    int64
	SubmitTime time.Time

	Status       EventStatus
	AttemptCount int
	MaxAttempts  int
	LastError    string

	Metadata map[string]string
}

// EntityKey identifies the serialization unit: only one event for a given
// (EntityType, EntityID) pair may be in StatusProcessing at a time.
func (e *SyncEvent) EntityKey() string {
	return e.EntityType + ":" + e.EntityID
}

// Clone returns a copy whose payloads (see Payload.Clone) and metadata map
// can be mutated independently of the original.
func (e *SyncEvent) Clone() *SyncEvent {
	out := *e
	out.Payload = e.Payload.Clone()
	if e.Previous != nil {
		out.Previous = e.Previous.Clone()
	}
	out.Metadata = make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// CanRetry reports whether the event has attempts remaining.
func (e *SyncEvent) CanRetry() bool {
	return e.AttemptCount < e.MaxAttempts
}
