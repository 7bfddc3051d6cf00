package syncmodel

import "time"

// CursorState tracks a ReplicationCursor's lifecycle.
type CursorState string

const (
	CursorActive CursorState = "active"
	CursorPaused CursorState = "paused"
	CursorError  CursorState = "error"
)

// ReplicationCursor tracks how far a target region has consumed the event
// stream, for a given entity type, originating from a given source region.
type ReplicationCursor struct {
	Region       string // target region
	SourceRegion string
	EntityType   string
	Position     int64 // last successfully shipped event Version
	State        CursorState
	LagSeconds   float64
	FailedCount  int64
	LastError    string
	UpdatedAt    time.Time
}

// IntegrityCheckKind names one of the four audit check kinds.
type IntegrityCheckKind string

const (
	CheckConsistency        IntegrityCheckKind = "consistency"
	CheckCompleteness       IntegrityCheckKind = "completeness"
	CheckReferentialIntegrity IntegrityCheckKind = "referential-integrity"
	CheckSchemaValidation   IntegrityCheckKind = "schema-validation"
)

// IntegrityCheck records the outcome of a single audit run.
type IntegrityCheck struct {
	ID         string
	Kind       IntegrityCheckKind
	EntityType string
	RanAt      time.Time
	Duration   time.Duration

	SampledCount     int
	DiscrepancyCount int
	Ratio            float64 // DiscrepancyCount / SampledCount, kind-dependent meaning

	Details []string
}

// Passed reports whether the check's ratio cleared the given threshold.
// For CheckConsistency, ratio is the consistency fraction and must be >=
// threshold; for the other three kinds ratio is a failure fraction and
// must be <= threshold.
func (c *IntegrityCheck) Passed(threshold float64) bool {
	if c.Kind == CheckConsistency {
		return c.Ratio >= threshold
	}
	return c.Ratio <= threshold
}
