package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics tracks the cache invalidator's strategy executions.
type CacheMetrics struct {
	InvalidationsTotal *prometheus.CounterVec
	ProviderErrorsTotal *prometheus.CounterVec
	ScheduledSetSize    prometheus.Gauge
	SweepDuration       *prometheus.HistogramVec
	WarmedKeysTotal     *prometheus.CounterVec
}

// NewCacheMetrics creates and registers the cache category's metrics.
func NewCacheMetrics(namespace string) *CacheMetrics {
	return &CacheMetrics{
		InvalidationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "invalidations_total",
				Help:      "Total cache invalidations performed, by strategy and provider",
			},
			[]string{"strategy", "provider"},
		),
		ProviderErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "provider_errors_total",
				Help:      "Total errors returned by a cache provider during invalidation",
			},
			[]string{"provider"},
		),
		ScheduledSetSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "scheduled_set_size",
				Help:      "Number of keys currently pending scheduled invalidation",
			},
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of one scheduled-invalidation sweep",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			},
			[]string{"provider"},
		),
		WarmedKeysTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "warmed_keys_total",
				Help:      "Total keys proactively warmed after invalidation",
			},
			[]string{"provider"},
		),
	}
}
