package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AuditMetrics tracks the integrity auditor's periodic check runs.
type AuditMetrics struct {
	ChecksRunTotal      *prometheus.CounterVec
	ChecksFailedTotal   *prometheus.CounterVec
	ConsistencyRatio    *prometheus.GaugeVec
	ConflictRate        *prometheus.GaugeVec
	FailureRate         *prometheus.GaugeVec
	CheckDuration       *prometheus.HistogramVec
	ThresholdBreaches   *prometheus.CounterVec
}

// NewAuditMetrics creates and registers the audit category's metrics.
func NewAuditMetrics(namespace string) *AuditMetrics {
	return &AuditMetrics{
		ChecksRunTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "checks_run_total",
				Help:      "Total integrity checks executed, by kind",
			},
			[]string{"kind", "entity_type"},
		),
		ChecksFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "checks_failed_total",
				Help:      "Total integrity checks that found a discrepancy, by kind",
			},
			[]string{"kind", "entity_type"},
		),
		ConsistencyRatio: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "consistency_ratio",
				Help:      "Fraction of sampled entities consistent across targets, by entity type",
			},
			[]string{"entity_type"},
		),
		ConflictRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "conflict_rate",
				Help:      "Fraction of recent events that produced a conflict, by entity type",
			},
			[]string{"entity_type"},
		),
		FailureRate: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "failure_rate",
				Help:      "Fraction of recent events that exhausted retries, by entity type",
			},
			[]string{"entity_type"},
		),
		CheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "check_duration_seconds",
				Help:      "Duration of one integrity check run",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		ThresholdBreaches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "threshold_breaches_total",
				Help:      "Total number of times a configured alert threshold was breached",
			},
			[]string{"kind", "entity_type"},
		),
	}
}
