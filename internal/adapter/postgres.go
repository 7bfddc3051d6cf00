package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// ErrNotFound is returned by Read when no row exists for the given entity.
var ErrNotFound = errors.New("adapter: entity not found")

// PostgresAdapter propagates events into a generic synced_entities table,
// keyed by (entity_type, entity_id) with a JSONB payload column and the
// event's version recorded for idempotence.
type PostgresAdapter struct {
	name    string
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *postgresAdapterMetrics
}

type postgresAdapterMetrics struct {
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
}

func newPostgresAdapterMetrics(namespace string) *postgresAdapterMetrics {
	m := &postgresAdapterMetrics{
		queryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "adapter_postgres",
				Name:      "query_duration_seconds",
				Help:      "Duration of PostgresAdapter Apply queries",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		queryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "adapter_postgres",
				Name:      "query_errors_total",
				Help:      "Total PostgresAdapter query errors",
			},
			[]string{"operation"},
		),
	}
	return m
}

// NewPostgresAdapter creates a PostgresAdapter over an already-connected pool.
// The caller owns migrating the synced_entities table into existence.
func NewPostgresAdapter(name string, pool *pgxpool.Pool, logger *slog.Logger) *PostgresAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAdapter{
		name:    name,
		pool:    pool,
		logger:  logger,
		metrics: newPostgresAdapterMetrics("syncengine"),
	}
}

func (p *PostgresAdapter) Name() string               { return p.name }
func (p *PostgresAdapter) Kind() syncmodel.AdapterKind { return syncmodel.AdapterDatabase }

func (p *PostgresAdapter) Apply(ctx context.Context, event *syncmodel.SyncEvent) error {
	start := time.Now()
	op := "upsert"
	if event.Kind == syncmodel.EventDelete {
		op = "delete"
	}
	defer func() {
		p.metrics.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	if event.Kind == syncmodel.EventDelete {
		_, err := p.pool.Exec(ctx,
			`DELETE FROM synced_entities WHERE entity_type = $1 AND entity_id = $2 AND version <= $3`,
			event.EntityType, event.EntityID, event.Version)
		if err != nil {
			p.metrics.queryErrors.WithLabelValues(op).Inc()
			return resilience.ClassifyAdapterError(fmt.Errorf("postgres delete %s/%s: %w", event.EntityType, event.EntityID, err))
		}
		return nil
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return resilience.Permanent("postgres_marshal", fmt.Errorf("marshal payload: %w", err))
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO synced_entities (entity_type, entity_id, payload, version, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, entity_id) DO UPDATE
		SET payload = EXCLUDED.payload, version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
		WHERE synced_entities.version < EXCLUDED.version`,
		event.EntityType, event.EntityID, payloadJSON, event.Version, time.Now().UTC())
	if err != nil {
		p.metrics.queryErrors.WithLabelValues(op).Inc()
		return resilience.ClassifyAdapterError(fmt.Errorf("postgres upsert %s/%s: %w", event.EntityType, event.EntityID, err))
	}
	return nil
}

// Read returns the currently stored payload for an entity, or ErrNotFound
// if no row exists. Used by the conflict detector to compare an incoming
// event against the system of record.
func (p *PostgresAdapter) Read(ctx context.Context, entityType, entityID string) (syncmodel.Payload, error) {
	start := time.Now()
	defer func() {
		p.metrics.queryDuration.WithLabelValues("read").Observe(time.Since(start).Seconds())
	}()

	var payloadJSON []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM synced_entities WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID).Scan(&payloadJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		p.metrics.queryErrors.WithLabelValues("read").Inc()
		return nil, resilience.ClassifyAdapterError(fmt.Errorf("postgres read %s/%s: %w", entityType, entityID, err))
	}

	var payload syncmodel.Payload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, resilience.Permanent("postgres_unmarshal", fmt.Errorf("unmarshal payload: %w", err))
	}
	return payload, nil
}

func (p *PostgresAdapter) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	return nil
}
