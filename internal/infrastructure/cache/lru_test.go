package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTieredCache(t *testing.T) (*TieredCache, *RedisCache, func()) {
	l2, mr := setupTestRedis(t)
	tiered, err := NewTieredCache(l2, 8)
	require.NoError(t, err)
	return tiered, l2, func() {
		mr.Close()
		l2.Close()
	}
}

func TestTieredCache_GetSetRoundtrip(t *testing.T) {
	tiered, _, cleanup := setupTieredCache(t)
	defer cleanup()

	ctx := context.Background()
	value := map[string]string{"name": "entity", "value": "1"}
	require.NoError(t, tiered.Set(ctx, "k1", value, time.Minute))

	var out map[string]string
	require.NoError(t, tiered.Get(ctx, "k1", &out))
	assert.Equal(t, value, out)
}

func TestTieredCache_L1HitAvoidsL2(t *testing.T) {
	tiered, l2, cleanup := setupTieredCache(t)
	defer cleanup()

	ctx := context.Background()
	value := map[string]string{"name": "entity"}
	require.NoError(t, tiered.Set(ctx, "k1", value, time.Minute))

	var out map[string]string
	require.NoError(t, tiered.Get(ctx, "k1", &out))

	require.NoError(t, l2.Delete(ctx, "k1"))

	var out2 map[string]string
	require.NoError(t, tiered.Get(ctx, "k1", &out2))
	assert.Equal(t, value, out2)
}

func TestTieredCache_DeleteClearsBothTiers(t *testing.T) {
	tiered, _, cleanup := setupTieredCache(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, tiered.Set(ctx, "k1", "v", time.Minute))
	require.NoError(t, tiered.Delete(ctx, "k1"))

	var out string
	err := tiered.Get(ctx, "k1", &out)
	assert.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestTieredCache_GetStatsReportsL1Counters(t *testing.T) {
	tiered, _, cleanup := setupTieredCache(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, tiered.Set(ctx, "k1", "v", time.Minute))

	var out string
	require.NoError(t, tiered.Get(ctx, "k1", &out))

	var missOut string
	_ = tiered.Get(ctx, "missing", &missOut)

	stats, err := tiered.GetStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats["l1_hits"])
	assert.GreaterOrEqual(t, stats["l1_misses"].(int64), int64(1))
}

func TestTieredCache_ExistsChecksL1ThenL2(t *testing.T) {
	tiered, l2, cleanup := setupTieredCache(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, l2.Set(ctx, "k1", "v", time.Minute))

	ok, err := tiered.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tiered.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
