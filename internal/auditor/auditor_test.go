package auditor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

func newTestAuditor(t *testing.T) (*Auditor, eventstore.Store) {
	t.Helper()
	store := eventstore.NewMemoryStore()
	a := New(store, nil, nil)
	return a, store
}

func applyAndRegister(t *testing.T, store eventstore.Store, a *Auditor, m *adapter.MemoryAdapter, entityType, entityID string, payload syncmodel.Payload) *syncmodel.SyncEvent {
	t.Helper()
	ctx := context.Background()
	ev := &syncmodel.SyncEvent{EntityType: entityType, EntityID: entityID, Kind: syncmodel.EventCreate, Payload: payload}
	require.NoError(t, store.Append(ctx, ev))
	require.NoError(t, m.Apply(ctx, ev))
	return ev
}

func TestRun_ConsistencyFindsMismatchBetweenSources(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	primary := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	secondary := adapter.NewMemoryAdapter("search-index", syncmodel.AdapterSearchIndex, 0)
	a.RegisterSource("order", primary)
	a.RegisterSource("order", secondary)
	a.RegisterEntityConfig(syncmodel.DefaultEntitySyncConfig("order"))

	applyAndRegister(t, store, a, primary, "order", "o-1", syncmodel.Payload{"status": syncmodel.String("open")})
	// secondary sees a stale value for the same entity
	require.NoError(t, secondary.Apply(ctx, &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Kind: syncmodel.EventCreate,
		Payload: syncmodel.Payload{"status": syncmodel.String("closed")}, Version: 1}))

	a.Run(ctx)

	checks, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckConsistency, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 1, checks[0].SampledCount)
	assert.Equal(t, 1, checks[0].DiscrepancyCount)
	assert.False(t, checks[0].Passed(consistencyThreshold))
	assert.NotEmpty(t, checks[0].Details)
}

func TestRun_ConsistencyPassesWhenSourcesAgree(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	primary := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	secondary := adapter.NewMemoryAdapter("search-index", syncmodel.AdapterSearchIndex, 0)
	a.RegisterSource("order", primary)
	a.RegisterSource("order", secondary)
	a.RegisterEntityConfig(syncmodel.DefaultEntitySyncConfig("order"))

	applyAndRegister(t, store, a, primary, "order", "o-1", syncmodel.Payload{"status": syncmodel.String("open")})
	require.NoError(t, secondary.Apply(ctx, &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Kind: syncmodel.EventCreate,
		Payload: syncmodel.Payload{"status": syncmodel.String("open")}, Version: 1}))

	a.Run(ctx)

	checks, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckConsistency, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 0, checks[0].DiscrepancyCount)
	assert.True(t, checks[0].Passed(consistencyThreshold))
}

func TestRun_CompletenessFlagsMissingFromSecondSource(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	primary := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	secondary := adapter.NewMemoryAdapter("search-index", syncmodel.AdapterSearchIndex, 0)
	a.RegisterSource("order", primary)
	a.RegisterSource("order", secondary)
	a.RegisterEntityConfig(syncmodel.DefaultEntitySyncConfig("order"))

	applyAndRegister(t, store, a, primary, "order", "o-1", syncmodel.Payload{"status": syncmodel.String("open")})

	a.Run(ctx)

	checks, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckCompleteness, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 1, checks[0].DiscrepancyCount)
	assert.Contains(t, checks[0].Details[0], "search-index")
}

func TestRun_SchemaValidationFlagsMissingRequiredField(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	primary := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	a.RegisterSource("order", primary)

	cfg := syncmodel.DefaultEntitySyncConfig("order")
	cfg.Schema.RequiredFields = []string{"status", "owner"}
	a.RegisterEntityConfig(cfg)

	applyAndRegister(t, store, a, primary, "order", "o-1", syncmodel.Payload{"status": syncmodel.String("open")})

	a.Run(ctx)

	checks, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckSchemaValidation, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 1, checks[0].DiscrepancyCount)
}

func TestRun_ReferentialIntegrityFlagsDanglingReference(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	orderDB := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	customerDB := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	a.RegisterSource("order", orderDB)
	a.RegisterSource("customer", customerDB)

	cfg := syncmodel.DefaultEntitySyncConfig("order")
	cfg.Schema.References = map[string]string{"customer_id": "customer"}
	a.RegisterEntityConfig(cfg)
	a.RegisterEntityConfig(syncmodel.DefaultEntitySyncConfig("customer"))

	applyAndRegister(t, store, a, orderDB, "order", "o-1", syncmodel.Payload{"customer_id": syncmodel.String("missing-customer")})

	a.Run(ctx)

	checks, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckReferentialIntegrity, 10)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, 1, checks[0].DiscrepancyCount)
}

func TestRun_SampleAdvancesCursorAcrossRuns(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	primary := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	a.RegisterSource("order", primary)
	cfg := syncmodel.DefaultEntitySyncConfig("order")
	cfg.Schema.RequiredFields = []string{"status"}
	a.RegisterEntityConfig(cfg)

	applyAndRegister(t, store, a, primary, "order", "o-1", syncmodel.Payload{"status": syncmodel.String("open")})
	a.Run(ctx)

	first, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckSchemaValidation, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].SampledCount)

	// second run with no new events should sample nothing new
	a.Run(ctx)
	second, err := store.RecentIntegrityChecks(ctx, "order", syncmodel.CheckSchemaValidation, 10)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 0, second[0].SampledCount, "most recent run should have sampled nothing new")
}

func TestRun_ConflictAndFailureRatesSetMetricsAndDoNotPanicWithoutSources(t *testing.T) {
	a, store := newTestAuditor(t)
	ctx := context.Background()

	a.RegisterEntityConfig(syncmodel.DefaultEntitySyncConfig("order"))
	ev := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Kind: syncmodel.EventCreate, Payload: syncmodel.Payload{}}
	require.NoError(t, store.Append(ctx, ev))

	assert.NotPanics(t, func() { a.Run(ctx) })
}
