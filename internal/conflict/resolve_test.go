package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

func detected() Detection {
	return Detection{Conflicted: true, Kind: syncmodel.ConflictVersion, Detail: "test"}
}

func TestResolver_LastWriteWins_GreaterUpdatedAtWins(t *testing.T) {
	r := NewResolver()
	// price=120 must win: its updated-at (T+50ms) is later than existing's.
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "product", Payload: syncmodel.Payload{
		"price":      syncmodel.Number(120),
		"updated-at": syncmodel.Number(1_000_050),
	}}
	existing := syncmodel.Payload{
		"price":      syncmodel.Number(100),
		"updated-at": syncmodel.Number(1_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyLastWriteWins}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, rec.IsResolved())
	assert.Equal(t, float64(120), rec.ResolvedPayload["price"].Num)
}

func TestResolver_LastWriteWins_ExistingNewerWins(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "product", Payload: syncmodel.Payload{
		"price":      syncmodel.Number(120),
		"updated-at": syncmodel.Number(1_000_000),
	}}
	existing := syncmodel.Payload{
		"price":      syncmodel.Number(100),
		"updated-at": syncmodel.Number(1_000_050),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyLastWriteWins}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(100), rec.ResolvedPayload["price"].Num)
}

func TestResolver_LastWriteWins_FallsBackToCreatedAt(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "product", Payload: syncmodel.Payload{
		"price":      syncmodel.Number(120),
		"created-at": syncmodel.Number(2_000_000),
	}}
	existing := syncmodel.Payload{
		"price":      syncmodel.Number(100),
		"created-at": syncmodel.Number(1_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyLastWriteWins}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(120), rec.ResolvedPayload["price"].Num)
}

func TestResolver_FirstWriteWins_SmallestCreatedAtWins(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status":     syncmodel.String("closed"),
		"created-at": syncmodel.Number(2_000_000),
	}}
	existing := syncmodel.Payload{
		"status":     syncmodel.String("open"),
		"created-at": syncmodel.Number(1_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyFirstWriteWins}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "open", rec.ResolvedPayload["status"].Str)
}

func TestResolver_FirstWriteWins_IncomingEarlierWins(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status":     syncmodel.String("closed"),
		"created-at": syncmodel.Number(1_000_000),
	}}
	existing := syncmodel.Payload{
		"status":     syncmodel.String("open"),
		"created-at": syncmodel.Number(2_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyFirstWriteWins}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", rec.ResolvedPayload["status"].Str)
}

func TestResolver_Merge_IgnoreFieldsAreSkipped(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status":     syncmodel.String("closed"),
		"updated-at": syncmodel.Number(2_000_000),
	}}
	existing := syncmodel.Payload{
		"status":     syncmodel.String("open"),
		"updated-at": syncmodel.Number(1_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyMerge, IgnoreFields: []string{"status"}}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "open", rec.ResolvedPayload["status"].Str)
}

func TestResolver_Merge_MergeFieldsAlwaysTakeIncoming(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status":     syncmodel.String("closed"),
		"updated-at": syncmodel.Number(1_000_000), // older than existing, but forced anyway
	}}
	existing := syncmodel.Payload{
		"status":     syncmodel.String("open"),
		"updated-at": syncmodel.Number(2_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyMerge, MergeFields: []string{"status"}}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", rec.ResolvedPayload["status"].Str)
}

func TestResolver_Merge_AbsentFromExistingTakesIncoming(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status": syncmodel.String("closed"),
		"owner":  syncmodel.String("bob"),
	}}
	existing := syncmodel.Payload{
		"status": syncmodel.String("open"),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyMerge}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.ResolvedPayload["owner"].Str)
}

func TestResolver_Merge_DifferingValueTiebreaksOnGreaterUpdatedAt(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status":     syncmodel.String("closed"),
		"updated-at": syncmodel.Number(2_000_000),
	}}
	existing := syncmodel.Payload{
		"status":     syncmodel.String("open"),
		"updated-at": syncmodel.Number(1_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyMerge}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", rec.ResolvedPayload["status"].Str)
}

func TestResolver_Merge_DifferingValueKeepsExistingWhenNewer(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{
		"status":     syncmodel.String("closed"),
		"updated-at": syncmodel.Number(1_000_000),
	}}
	existing := syncmodel.Payload{
		"status":     syncmodel.String("open"),
		"updated-at": syncmodel.Number(2_000_000),
	}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyMerge}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "open", rec.ResolvedPayload["status"].Str)
}

func TestResolver_Custom(t *testing.T) {
	r := NewResolver()
	r.RegisterCustom("order", func(incoming, existing syncmodel.Payload) (syncmodel.Payload, error) {
		return syncmodel.Payload{"status": syncmodel.String("merged-by-custom-rule")}, nil
	})
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{"status": syncmodel.String("closed")}}
	existing := syncmodel.Payload{"status": syncmodel.String("open")}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyCustom}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, rec.IsResolved())
	assert.Equal(t, "merged-by-custom-rule", rec.ResolvedPayload["status"].Str)
}

func TestResolver_Custom_MissingRegistrationFailsConflict(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{}}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyCustom}

	rec, err := r.Resolve(incoming, syncmodel.Payload{}, detected(), cfg, nil)
	assert.Error(t, err)
	assert.Equal(t, syncmodel.ConflictFailed, rec.State)
	assert.NotEmpty(t, rec.Detail)
}

func TestResolver_Custom_ResolverErrorFailsConflict(t *testing.T) {
	r := NewResolver()
	r.RegisterCustom("order", func(incoming, existing syncmodel.Payload) (syncmodel.Payload, error) {
		return nil, assert.AnError
	})
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{}}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyCustom}

	rec, err := r.Resolve(incoming, syncmodel.Payload{}, detected(), cfg, nil)
	assert.Error(t, err)
	assert.False(t, rec.IsResolved())
	assert.Equal(t, syncmodel.ConflictFailed, rec.State)
}

func TestResolver_Manual_StaysDetectedAndErrors(t *testing.T) {
	r := NewResolver()
	incoming := &syncmodel.SyncEvent{ID: "e1", EntityType: "order", Payload: syncmodel.Payload{"status": syncmodel.String("closed")}}
	existing := syncmodel.Payload{"status": syncmodel.String("open")}
	cfg := syncmodel.EntitySyncConfig{Strategy: syncmodel.StrategyManual}

	rec, err := r.Resolve(incoming, existing, detected(), cfg, nil)
	assert.Error(t, err)
	assert.False(t, rec.IsResolved())
	assert.Equal(t, syncmodel.ConflictDetected, rec.State)

	require.NoError(t, ResolveManually(rec, syncmodel.Payload{"status": syncmodel.String("operator-chosen")}))
	assert.True(t, rec.IsResolved())
}
