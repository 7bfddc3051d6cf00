package cacheinvalidate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// fakeProvider is a minimal in-memory adapter.CacheCapable for tests.
type fakeProvider struct {
	mu      sync.Mutex
	keys    map[string]bool
	tags    map[string][]string // tag -> keys deleted when that tag invalidates
	stale   map[string]bool
	warmed  map[string]syncmodel.Payload
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		keys:   make(map[string]bool),
		tags:   make(map[string][]string),
		stale:  make(map[string]bool),
		warmed: make(map[string]syncmodel.Payload),
	}
}

func (f *fakeProvider) Name() string                  { return "fake" }
func (f *fakeProvider) Kind() syncmodel.AdapterKind    { return syncmodel.AdapterCache }
func (f *fakeProvider) Apply(ctx context.Context, e *syncmodel.SyncEvent) error { return nil }
func (f *fakeProvider) HealthCheck(ctx context.Context) error                  { return nil }

func (f *fakeProvider) InvalidateKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
	return nil
}

func (f *fakeProvider) InvalidateByTag(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.tags[tag] {
		f.keys[k] = true
	}
	return nil
}

func (f *fakeProvider) InvalidateByPattern(ctx context.Context, pattern string) error { return nil }

func (f *fakeProvider) MarkStale(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stale[key] = true
	return nil
}

func (f *fakeProvider) Warm(ctx context.Context, key string, value syncmodel.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warmed[key] = value
	return nil
}

func (f *fakeProvider) Stats(ctx context.Context) (adapter.CacheStats, error) {
	return adapter.CacheStats{}, nil
}

func TestInvalidate_Immediate(t *testing.T) {
	inv := New(eventstore.NewMemoryStore(), nil, nil)
	fp := newFakeProvider()
	inv.RegisterProvider("fake", fp)

	event := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Payload: syncmodel.Payload{}}
	require.NoError(t, inv.Invalidate(context.Background(), event, syncmodel.CacheInvalidationConfig{Immediate: true}))

	assert.True(t, fp.keys["order:o-1"])
}

func TestInvalidate_Lazy(t *testing.T) {
	inv := New(eventstore.NewMemoryStore(), nil, nil)
	fp := newFakeProvider()
	inv.RegisterProvider("fake", fp)

	event := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Payload: syncmodel.Payload{}}
	require.NoError(t, inv.Invalidate(context.Background(), event, syncmodel.CacheInvalidationConfig{Lazy: true}))

	assert.True(t, fp.stale["order:o-1"])
}

func TestInvalidate_Scheduled_PersistsAndSweepClears(t *testing.T) {
	store := eventstore.NewMemoryStore()
	inv := New(store, nil, nil)
	fp := newFakeProvider()
	inv.RegisterProvider("fake", fp)

	event := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Payload: syncmodel.Payload{}}
	require.NoError(t, inv.Invalidate(context.Background(), event, syncmodel.CacheInvalidationConfig{Scheduled: true}))

	pending, err := store.ListSideValues(context.Background(), scheduledNamespace)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, inv.Sweep(context.Background()))
	assert.True(t, fp.keys["order:o-1"])

	pending, err = store.ListSideValues(context.Background(), scheduledNamespace)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInvalidate_Dependencies_CycleSafe(t *testing.T) {
	inv := New(eventstore.NewMemoryStore(), nil, nil)
	fp := newFakeProvider()
	inv.RegisterProvider("fake", fp)
	fp.tags["b"] = []string{"b:linked"}
	fp.tags["a"] = []string{"a:linked"}

	aCfg := syncmodel.DefaultEntitySyncConfig("a")
	aCfg.Cache.Dependencies = []string{"b"}
	bCfg := syncmodel.DefaultEntitySyncConfig("b")
	bCfg.Cache.Dependencies = []string{"a"} // cycle back to a
	inv.RegisterEntityConfig(aCfg)
	inv.RegisterEntityConfig(bCfg)

	event := &syncmodel.SyncEvent{EntityType: "a", EntityID: "1", Payload: syncmodel.Payload{}}
	require.NoError(t, inv.Invalidate(context.Background(), event, syncmodel.CacheInvalidationConfig{Dependencies: []string{"b"}}))

	assert.True(t, fp.keys["b:linked"])
}

func TestInvalidate_Warm(t *testing.T) {
	inv := New(eventstore.NewMemoryStore(), nil, nil)
	fp := newFakeProvider()
	inv.RegisterProvider("fake", fp)

	event := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Payload: syncmodel.Payload{"status": syncmodel.String("open")}}
	require.NoError(t, inv.Invalidate(context.Background(), event, syncmodel.CacheInvalidationConfig{Warm: true}))

	assert.Equal(t, "open", fp.warmed["order:o-1"]["status"].Str)
}

func TestInvalidateBulk_IsolatesPerEventFailures(t *testing.T) {
	inv := New(eventstore.NewMemoryStore(), nil, nil)
	fp := newFakeProvider()
	inv.RegisterProvider("fake", fp)

	events := []*syncmodel.SyncEvent{
		{EntityType: "order", EntityID: "o-1", Payload: syncmodel.Payload{}},
		{EntityType: "order", EntityID: "o-2", Payload: syncmodel.Payload{}},
	}
	failed := inv.InvalidateBulk(context.Background(), events, syncmodel.CacheInvalidationConfig{Immediate: true})
	assert.Empty(t, failed)
	assert.True(t, fp.keys["order:o-1"])
	assert.True(t, fp.keys["order:o-2"])
}
