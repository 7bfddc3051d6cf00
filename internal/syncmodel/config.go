package syncmodel

import "time"

// AdapterKind names one of the four target categories an entity can fan
// out to, plus the read-only observer variant.
type AdapterKind string

const (
	AdapterDatabase    AdapterKind = "database"
	AdapterCache       AdapterKind = "cache"
	AdapterSearchIndex AdapterKind = "search-index"
	AdapterExternalAPI AdapterKind = "external-api"
	AdapterReadOnly    AdapterKind = "read-only"
)

// TargetConfig names one configured fanout destination for an entity type.
type TargetConfig struct {
	Name     string
	Kind     AdapterKind
	Required bool // if true, failure here fails the whole event
}

// CacheInvalidationConfig configures which strategies apply to an entity
// type's cache fanout.
type CacheInvalidationConfig struct {
	Immediate    bool
	Lazy         bool
	Scheduled    bool
	ScheduleTTL  time.Duration
	Dependencies []string // other entity types whose cache entries also invalidate
	Warm         bool
}

// ReplicationConfig configures cross-region replication for an entity type.
type ReplicationConfig struct {
	Regions          []string
	CatchUpBatchSize int
	LagAlertEvents   int64
	MaxLagSeconds    float64 // lag-monitor alert threshold, default 300
}

// SchemaConfig describes the shape the integrity auditor expects for an
// entity type's payload: which fields must be present, what kind each
// holds, and which fields reference another entity type by id.
type SchemaConfig struct {
	RequiredFields []string
	FieldTypes     map[string]ValueKind
	References     map[string]string // field name -> referenced entity type
}

// EntitySyncConfig is the per-entity-type configuration governing fanout,
// conflict resolution, cache invalidation, and replication.
type EntitySyncConfig struct {
	EntityType string

	Targets  []TargetConfig
	Strategy ResolutionStrategy

	// MergeFields and IgnoreFields govern StrategyMerge only: a field in
	// MergeFields always takes the incoming candidate's value, a field in
	// IgnoreFields is skipped entirely. CriticalFields drives
	// data-inconsistency detection: a difference on any of these fields
	// between the incoming and existing payload is a conflict regardless
	// of the updated-at proximity check.
	MergeFields    []string
	IgnoreFields   []string
	CriticalFields []string

	Cache       CacheInvalidationConfig
	Replication ReplicationConfig
	Schema      SchemaConfig

	MaxAttempts    int
	ProcessTimeout time.Duration
}

// DefaultEntitySyncConfig returns a config with the spec's documented
// defaults: 3 max attempts, 30s processing deadline, 1000-event catch-up
// batches.
func DefaultEntitySyncConfig(entityType string) EntitySyncConfig {
	return EntitySyncConfig{
		EntityType:     entityType,
		Strategy:       StrategyLastWriteWins,
		MaxAttempts:    3,
		ProcessTimeout: 30 * time.Second,
		Replication: ReplicationConfig{
			CatchUpBatchSize: 1000,
			MaxLagSeconds:    300,
		},
	}
}
