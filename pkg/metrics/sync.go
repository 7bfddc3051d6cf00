package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics tracks the sync engine's event processing pipeline.
type SyncMetrics struct {
	EventsSubmittedTotal *prometheus.CounterVec
	EventsProcessedTotal *prometheus.CounterVec
	EventsFailedTotal    *prometheus.CounterVec
	ProcessingDuration   *prometheus.HistogramVec
	ConflictsTotal       *prometheus.CounterVec
	FanoutDuration       *prometheus.HistogramVec
	QueueDepth           prometheus.Gauge
	RetryAttemptsTotal   *prometheus.CounterVec
}

// NewSyncMetrics creates and registers the sync category's metrics.
func NewSyncMetrics(namespace string) *SyncMetrics {
	return &SyncMetrics{
		EventsSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "events_submitted_total",
				Help:      "Total number of sync events submitted, by entity type and kind",
			},
			[]string{"entity_type", "kind"},
		),
		EventsProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "events_processed_total",
				Help:      "Total number of sync events that completed processing, by outcome",
			},
			[]string{"entity_type", "outcome"},
		),
		EventsFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "events_failed_total",
				Help:      "Total number of sync events that exhausted retries, by entity type",
			},
			[]string{"entity_type", "reason"},
		),
		ProcessingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "processing_duration_seconds",
				Help:      "Time from dequeue to terminal state for one event",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"entity_type"},
		),
		ConflictsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "conflicts_total",
				Help:      "Total number of conflicts detected, by entity type and kind",
			},
			[]string{"entity_type", "kind"},
		),
		FanoutDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "fanout_duration_seconds",
				Help:      "Time spent applying an event across all configured adapters",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
			},
			[]string{"entity_type", "adapter"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "queue_depth",
				Help:      "Number of events currently pending or processing in the engine",
			},
		),
		RetryAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "retry_attempts_total",
				Help:      "Total retry attempts for event processing, by entity type",
			},
			[]string{"entity_type"},
		),
	}
}
