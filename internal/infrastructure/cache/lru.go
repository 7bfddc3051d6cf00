package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TieredCache layers an in-process LRU (L1) in front of another Cache (L2,
// normally Redis), mirroring a two-tier cache manager: reads check L1
// first and populate it from L2 on a miss, writes and deletes go to both
// tiers so the tiers never diverge on a key this process touched.
type TieredCache struct {
	l1   *lru.Cache[string, []byte]
	l2   Cache
	hits atomic.Int64
	miss atomic.Int64
}

// NewTieredCache wraps l2 with an L1 of at most size entries. size <= 0
// defaults to 1024.
func NewTieredCache(l2 Cache, size int) (*TieredCache, error) {
	if size <= 0 {
		size = 1024
	}
	l1, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &TieredCache{l1: l1, l2: l2}, nil
}

func (t *TieredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if raw, ok := t.l1.Get(key); ok {
		t.hits.Add(1)
		return json.Unmarshal(raw, dest)
	}
	t.miss.Add(1)
	if err := t.l2.Get(ctx, key, dest); err != nil {
		return err
	}
	if raw, err := json.Marshal(dest); err == nil {
		t.l1.Add(key, raw)
	}
	return nil
}

func (t *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if raw, err := json.Marshal(value); err == nil {
		t.l1.Add(key, raw)
	}
	return nil
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	t.l1.Remove(key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	if t.l1.Contains(key) {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

func (t *TieredCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return t.l2.TTL(ctx, key)
}

func (t *TieredCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	t.l1.Remove(key)
	return t.l2.Expire(ctx, key, ttl)
}

func (t *TieredCache) HealthCheck(ctx context.Context) error { return t.l2.HealthCheck(ctx) }
func (t *TieredCache) Ping(ctx context.Context) error        { return t.l2.Ping(ctx) }

func (t *TieredCache) Flush(ctx context.Context) error {
	t.l1.Purge()
	return t.l2.Flush(ctx)
}

func (t *TieredCache) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return t.l2.SAdd(ctx, key, members...)
}

func (t *TieredCache) SMembers(ctx context.Context, key string) ([]string, error) {
	return t.l2.SMembers(ctx, key)
}

func (t *TieredCache) SRem(ctx context.Context, key string, members ...interface{}) error {
	return t.l2.SRem(ctx, key, members...)
}

func (t *TieredCache) SCard(ctx context.Context, key string) (int64, error) {
	return t.l2.SCard(ctx, key)
}

// GetStats reports L1 hit/miss counts alongside whatever L2 exposes.
func (t *TieredCache) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{
		"l1_hits":   t.hits.Load(),
		"l1_misses": t.miss.Load(),
		"l1_len":    t.l1.Len(),
	}
	if sp, ok := t.l2.(statsProviderL2); ok {
		l2stats, err := sp.GetStats(ctx)
		if err == nil {
			for k, v := range l2stats {
				stats["l2_"+k] = v
			}
		}
	}
	return stats, nil
}

type statsProviderL2 interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}
