package syncmodel

import "time"

// ConflictKind classifies why an event was flagged as conflicting.
type ConflictKind string

const (
	ConflictVersion           ConflictKind = "version"
	ConflictConcurrentUpdate  ConflictKind = "concurrent-update"
	ConflictDataInconsistency ConflictKind = "data-inconsistency"
	ConflictSchemaMismatch    ConflictKind = "schema-mismatch"
)

// ResolutionStrategy names a conflict resolution policy.
type ResolutionStrategy string

const (
	StrategyLastWriteWins  ResolutionStrategy = "last-write-wins"
	StrategyFirstWriteWins ResolutionStrategy = "first-write-wins"
	StrategyMerge          ResolutionStrategy = "merge"
	StrategyCustom         ResolutionStrategy = "custom"
	StrategyManual         ResolutionStrategy = "manual"
)

// ConflictState tracks a ConflictRecord's lifecycle.
type ConflictState string

const (
	// ConflictDetected is the initial state every ConflictRecord is
	// created in. A manual-strategy record stays here for an operator to
	// resolve out of band via ResolveManually.
	ConflictDetected ConflictState = "detected"
	ConflictResolved ConflictState = "resolved"
	// ConflictFailed marks a record whose strategy could not produce a
	// resolved payload (an unregistered or erroring custom resolver, or
	// an unknown strategy); the triggering event is failed alongside it.
	ConflictFailed ConflictState = "failed"
)

// ConflictRecord captures a detected conflict and, once resolved, the
// payload that should be used for every subsequent processing attempt of
// the event that triggered it.
type ConflictRecord struct {
	ID         string
	EventID    string
	EntityType string
	EntityID   string
	Kind       ConflictKind
	Strategy   ResolutionStrategy
	State      ConflictState

	IncomingPayload Payload
	ExistingPayload Payload
	ResolvedPayload Payload // set once State == ConflictResolved

	DetectedAt time.Time
	ResolvedAt time.Time
	Detail     string
}

// IsResolved reports whether a resolved payload is available for reuse.
func (c *ConflictRecord) IsResolved() bool {
	return c.State == ConflictResolved && c.ResolvedPayload != nil
}
