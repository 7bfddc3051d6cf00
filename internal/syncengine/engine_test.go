package syncengine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/cacheinvalidate"
	"github.com/vitaliisemenov/syncengine/internal/conflict"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

type fakeReplicator struct {
	calls []*syncmodel.SyncEvent
	err   error
}

func (f *fakeReplicator) Replicate(ctx context.Context, event *syncmodel.SyncEvent) error {
	f.calls = append(f.calls, event)
	return f.err
}

func newTestEngine(t *testing.T) (*Engine, eventstore.Store, *adapter.MemoryAdapter) {
	t.Helper()
	store := eventstore.NewMemoryStore()
	eng, err := New(Config{
		Store:       store,
		Resolver:    conflict.NewResolver(),
		Invalidator: cacheinvalidate.New(store, nil, nil),
		Replicator:  &fakeReplicator{},
		Workers:     2,
	})
	require.NoError(t, err)

	dbAdapter := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	eng.RegisterAdapter("order", dbAdapter)

	cfg := syncmodel.DefaultEntitySyncConfig("order")
	cfg.Targets = []syncmodel.TargetConfig{{Name: "primary-db", Kind: syncmodel.AdapterDatabase, Required: true}}
	eng.RegisterEntityConfig(cfg)

	return eng, store, dbAdapter
}

func TestSubmit_RejectsUnknownEntityType(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.Submit(context.Background(), &syncmodel.SyncEvent{EntityType: "unknown", EntityID: "1"})
	assert.Error(t, err)
}

func TestSubmit_AssignsVersion(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	version, err := eng.Submit(context.Background(), &syncmodel.SyncEvent{
		ID: "e1", EntityType: "order", EntityID: "1", Kind: syncmodel.EventCreate,
		Payload: syncmodel.Payload{"status": syncmodel.String("open")},
	})
	require.NoError(t, err)
	assert.Greater(t, version, int64(0))
}

func TestRunPipeline_AppliesToRequiredAdapterAndInvalidatesCache(t *testing.T) {
	eng, store, dbAdapter := newTestEngine(t)
	ctx := context.Background()

	event := &syncmodel.SyncEvent{
		ID: "e1", EntityType: "order", EntityID: "1", Kind: syncmodel.EventCreate,
		Payload: syncmodel.Payload{"status": syncmodel.String("open")},
	}
	require.NoError(t, store.Append(ctx, event))

	cfg, ok := eng.entityConfig("order")
	require.True(t, ok)

	err := eng.runPipeline(ctx, event, cfg)
	require.NoError(t, err)

	payload, version, found := dbAdapter.Get("order", "1")
	require.True(t, found)
	assert.Equal(t, event.Version, version)
	assert.Equal(t, "open", payload["status"].Str)
}

func TestRunPipeline_RequiredAdapterFailureIsReturned(t *testing.T) {
	store := eventstore.NewMemoryStore()
	eng, err := New(Config{Store: store, Invalidator: cacheinvalidate.New(store, nil, nil)})
	require.NoError(t, err)

	failing := &failingAdapter{name: "broken-db", kind: syncmodel.AdapterDatabase}
	eng.RegisterAdapter("order", failing)
	cfg := syncmodel.DefaultEntitySyncConfig("order")
	cfg.Targets = []syncmodel.TargetConfig{{Name: "broken-db", Kind: syncmodel.AdapterDatabase, Required: true}}
	eng.RegisterEntityConfig(cfg)

	ctx := context.Background()
	event := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", EntityID: "1", Kind: syncmodel.EventCreate}
	require.NoError(t, store.Append(ctx, event))

	runErr := eng.runPipeline(ctx, event, cfg)
	assert.Error(t, runErr)
}

func TestRunPipeline_NonRequiredAdapterFailureDoesNotBlockPipeline(t *testing.T) {
	store := eventstore.NewMemoryStore()
	eng, err := New(Config{Store: store, Invalidator: cacheinvalidate.New(store, nil, nil)})
	require.NoError(t, err)

	ok := adapter.NewMemoryAdapter("primary-db", syncmodel.AdapterDatabase, 0)
	broken := &failingAdapter{name: "search-index", kind: syncmodel.AdapterSearchIndex}
	eng.RegisterAdapter("order", ok)
	eng.RegisterAdapter("order", broken)

	cfg := syncmodel.DefaultEntitySyncConfig("order")
	cfg.Targets = []syncmodel.TargetConfig{
		{Name: "primary-db", Kind: syncmodel.AdapterDatabase, Required: true},
		{Name: "search-index", Kind: syncmodel.AdapterSearchIndex, Required: false},
	}
	eng.RegisterEntityConfig(cfg)

	ctx := context.Background()
	event := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", EntityID: "1", Kind: syncmodel.EventCreate}
	require.NoError(t, store.Append(ctx, event))

	runErr := eng.runPipeline(ctx, event, cfg)
	assert.NoError(t, runErr)
}

func TestRunPipeline_ConcurrentUpdateResolvesByGreaterUpdatedAt(t *testing.T) {
	eng, store, dbAdapter := newTestEngine(t)
	ctx := context.Background()

	// seed existing state: price=100, updated-at=T
	seed := &syncmodel.SyncEvent{ID: "seed", EntityType: "order", EntityID: "1", Kind: syncmodel.EventCreate,
		Payload: syncmodel.Payload{
			"price":      syncmodel.Number(100),
			"updated-at": syncmodel.Number(1_000_000),
		}}
	require.NoError(t, store.Append(ctx, seed))
	cfg, _ := eng.entityConfig("order")
	require.NoError(t, eng.runPipeline(ctx, seed, cfg))

	// incoming event: price=120, updated-at=T+50ms, within the 1s
	// concurrent-update window. Scenario: price=120 must win the LWW
	// resolution because its updated-at is later.
	incoming := &syncmodel.SyncEvent{
		ID: "e2", EntityType: "order", EntityID: "1", Kind: syncmodel.EventUpdate,
		Payload: syncmodel.Payload{
			"price":      syncmodel.Number(120),
			"updated-at": syncmodel.Number(1_000_050),
		},
	}
	require.NoError(t, store.Append(ctx, incoming))

	cfg.Strategy = syncmodel.StrategyLastWriteWins
	err := eng.runPipeline(ctx, incoming, cfg)
	require.NoError(t, err)

	rec, err := store.GetConflict(ctx, "e2")
	require.NoError(t, err)
	assert.True(t, rec.IsResolved())
	assert.Equal(t, syncmodel.ConflictConcurrentUpdate, rec.Kind)

	payload, _, found := dbAdapter.Get("order", "1")
	require.True(t, found)
	assert.Equal(t, float64(120), payload["price"].Num)
}

func TestProcessEvent_MissingConfigFailsPermanently(t *testing.T) {
	store := eventstore.NewMemoryStore()
	eng, err := New(Config{Store: store})
	require.NoError(t, err)

	ctx := context.Background()
	event := &syncmodel.SyncEvent{ID: "e1", EntityType: "unregistered", EntityID: "1", MaxAttempts: 3}
	require.NoError(t, store.Append(ctx, event))
	claimed, derr := store.Dequeue(ctx, 10)
	require.NoError(t, derr)
	require.Len(t, claimed, 1)

	eng.processEvent(ctx, claimed[0], 0)

	got, gerr := store.Get(ctx, "e1")
	require.NoError(t, gerr)
	assert.Equal(t, syncmodel.StatusFailed, got.Status)
}

func TestSubmitBulk_ReportsPerEventResults(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	events := []*syncmodel.SyncEvent{
		{ID: "a", EntityType: "order", EntityID: "1", Kind: syncmodel.EventCreate},
		{ID: "b", EntityType: "unknown", EntityID: "2", Kind: syncmodel.EventCreate},
	}
	results := eng.SubmitBulk(context.Background(), events)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

type failingAdapter struct {
	name string
	kind syncmodel.AdapterKind
}

func (f *failingAdapter) Name() string               { return f.name }
func (f *failingAdapter) Kind() syncmodel.AdapterKind { return f.kind }
func (f *failingAdapter) Apply(ctx context.Context, event *syncmodel.SyncEvent) error {
	return errors.New("simulated adapter failure")
}
func (f *failingAdapter) HealthCheck(ctx context.Context) error { return nil }
