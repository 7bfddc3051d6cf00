package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ReplicationMetrics tracks cross-region replication cursors and transport.
type ReplicationMetrics struct {
	EventsShippedTotal  *prometheus.CounterVec
	ShipErrorsTotal     *prometheus.CounterVec
	CursorLag           *prometheus.GaugeVec
	CatchUpBatchesTotal *prometheus.CounterVec
	TransportDuration   *prometheus.HistogramVec
}

// NewReplicationMetrics creates and registers the replication category's metrics.
func NewReplicationMetrics(namespace string) *ReplicationMetrics {
	return &ReplicationMetrics{
		EventsShippedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "events_shipped_total",
				Help:      "Total number of events shipped to a target region",
			},
			[]string{"region", "entity_type"},
		),
		ShipErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "ship_errors_total",
				Help:      "Total transport errors while shipping to a target region",
			},
			[]string{"region", "error_type"},
		),
		CursorLag: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "cursor_lag_seconds",
				Help:      "Seconds since a region's cursor last advanced, as computed by the lag monitor",
			},
			[]string{"region"},
		),
		CatchUpBatchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "catchup_batches_total",
				Help:      "Total catch-up batches replayed to a lagging region",
			},
			[]string{"region"},
		),
		TransportDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "replication",
				Name:      "transport_duration_seconds",
				Help:      "Duration of a single transport.Ship call",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"region"},
		),
	}
}
