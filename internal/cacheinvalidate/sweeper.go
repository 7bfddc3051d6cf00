package cacheinvalidate

import (
	"context"
	"time"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
)

const sweepBatchSize = 100

// sweepInterval is how often the scheduled-invalidation sweeper drains the
// pending set, per §4.4.
const sweepInterval = time.Minute

// cleanupInterval is how often expired-entry cleanup runs across providers
// that support it.
const cleanupInterval = time.Hour

// Run starts the sweeper and expired-entry cleanup loops. It blocks until
// ctx is cancelled.
func (inv *Invalidator) Run(ctx context.Context) {
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			if err := inv.Sweep(ctx); err != nil {
				inv.logger.Error("scheduled cache sweep failed", "error", err)
			}
		case <-cleanupTicker.C:
			inv.cleanupExpired(ctx)
		}
	}
}

// Sweep drains the scheduled-invalidation set in batches of 100, issuing a
// durable immediate invalidation for each key and removing it from the set
// only once every provider has acknowledged. Errors within a batch are
// isolated: one key's failure leaves it in the pending set for the next
// sweep but does not block its batch-mates.
func (inv *Invalidator) Sweep(ctx context.Context) error {
	pending, err := inv.store.ListSideValues(ctx, scheduledNamespace)
	if err != nil {
		return err
	}

	inv.metrics.ScheduledSetSize.Set(float64(len(pending)))
	if len(pending) == 0 {
		return nil
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}

	providers := inv.providerList()

	for start := 0; start < len(keys); start += sweepBatchSize {
		end := start + sweepBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		inv.sweepBatch(ctx, providers, keys[start:end])
	}

	return nil
}

func (inv *Invalidator) sweepBatch(ctx context.Context, providers map[string]adapter.CacheCapable, keys []string) {
	start := time.Now()
	for _, key := range keys {
		ok := true
		for name, p := range providers {
			if err := p.InvalidateKey(ctx, key); err != nil {
				inv.onProviderError(name, err)
				ok = false
				continue
			}
			inv.metrics.InvalidationsTotal.WithLabelValues("scheduled", name).Inc()
		}
		if !ok {
			// leave the key pending; next sweep retries it.
			continue
		}
		if err := inv.store.DeleteSideValue(ctx, scheduledNamespace, key); err != nil {
			inv.logger.Warn("failed to clear scheduled invalidation entry", "key", key, "error", err)
		}
	}
	inv.metrics.SweepDuration.WithLabelValues("all").Observe(time.Since(start).Seconds())
}

// expiredCleaner is implemented by providers that can actively purge
// expired entries instead of relying on provider-native TTL expiry.
type expiredCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

func (inv *Invalidator) cleanupExpired(ctx context.Context) {
	for name, p := range inv.providerList() {
		cleaner, ok := p.(expiredCleaner)
		if !ok {
			continue
		}
		n, err := cleaner.CleanupExpired(ctx)
		if err != nil {
			inv.logger.Warn("expired-entry cleanup failed", "provider", name, "error", err)
			continue
		}
		if n > 0 {
			inv.logger.Info("expired-entry cleanup removed entries", "provider", name, "count", n)
		}
	}
}
