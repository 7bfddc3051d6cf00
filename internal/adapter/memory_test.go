package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

func TestMemoryAdapter_ApplyAndGet(t *testing.T) {
	m := NewMemoryAdapter("index", syncmodel.AdapterSearchIndex, 0)
	ctx := context.Background()

	event := &syncmodel.SyncEvent{
		EntityType: "order",
		EntityID:   "o-1",
		Kind:       syncmodel.EventCreate,
		Payload:    syncmodel.Payload{"status": syncmodel.String("new")},
		Version:    1,
	}

	require.NoError(t, m.Apply(ctx, event))

	payload, version, ok := m.Get("order", "o-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, "new", payload["status"].Str)
}

func TestMemoryAdapter_Delete(t *testing.T) {
	m := NewMemoryAdapter("index", syncmodel.AdapterSearchIndex, 0)
	ctx := context.Background()

	create := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Kind: syncmodel.EventCreate, Payload: syncmodel.Payload{}, Version: 1}
	require.NoError(t, m.Apply(ctx, create))

	del := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Kind: syncmodel.EventDelete, Version: 2}
	require.NoError(t, m.Apply(ctx, del))

	_, _, ok := m.Get("order", "o-1")
	assert.False(t, ok)
}

func TestMemoryAdapter_EvictsOldestWhenCapped(t *testing.T) {
	m := NewMemoryAdapter("index", syncmodel.AdapterSearchIndex, 2)
	ctx := context.Background()

	for i, id := range []string{"o-1", "o-2", "o-3"} {
		event := &syncmodel.SyncEvent{EntityType: "order", EntityID: id, Kind: syncmodel.EventCreate, Payload: syncmodel.Payload{}, Version: int64(i + 1)}
		require.NoError(t, m.Apply(ctx, event))
	}

	assert.Equal(t, 2, m.Len())
	_, _, ok := m.Get("order", "o-1")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, _, ok = m.Get("order", "o-3")
	assert.True(t, ok)
}

func TestMemoryAdapter_Read(t *testing.T) {
	m := NewMemoryAdapter("db", syncmodel.AdapterDatabase, 0)
	ctx := context.Background()

	_, err := m.Read(ctx, "order", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	event := &syncmodel.SyncEvent{EntityType: "order", EntityID: "o-1", Kind: syncmodel.EventCreate,
		Payload: syncmodel.Payload{"status": syncmodel.String("new")}, Version: 1}
	require.NoError(t, m.Apply(ctx, event))

	payload, err := m.Read(ctx, "order", "o-1")
	require.NoError(t, err)
	assert.Equal(t, "new", payload["status"].Str)
}
