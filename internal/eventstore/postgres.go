package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// PostgresStore is the durable Store backed by a pgx pool over the
// schema that internal/infrastructure/migrations creates (the
// events/entity_versions/conflict_records/replication_cursors/
// side_values/integrity_checks tables).
type PostgresStore struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *storeMetrics
}

type storeMetrics struct {
	queryDuration *prometheus.HistogramVec
	queryErrors   *prometheus.CounterVec
}

func newStoreMetrics(namespace string) *storeMetrics {
	return &storeMetrics{
		queryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "eventstore",
				Name:      "query_duration_seconds",
				Help:      "Duration of eventstore queries",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		queryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventstore",
				Name:      "query_errors_total",
				Help:      "Total eventstore query errors",
			},
			[]string{"operation"},
		),
	}
}

// NewPostgresStore wraps an already-connected, already-migrated pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger, metrics: newStoreMetrics("syncengine")}
}

func (s *PostgresStore) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.queryErrors.WithLabelValues(op).Inc()
	}
	return err
}

func (s *PostgresStore) Append(ctx context.Context, event *syncmodel.SyncEvent) error {
	return s.timed("append", func() error {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.SubmitTime.IsZero() {
			event.SubmitTime = time.Now().UTC()
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin append tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var last int64
		_, err = tx.Exec(ctx, `
			INSERT INTO entity_versions (entity_type, entity_id, version)
			VALUES ($1, $2, 0)
			ON CONFLICT (entity_type, entity_id) DO NOTHING`,
			event.EntityType, event.EntityID)
		if err != nil {
			return fmt.Errorf("ensure entity_versions row: %w", err)
		}

		err = tx.QueryRow(ctx, `
			SELECT version FROM entity_versions
			WHERE entity_type = $1 AND entity_id = $2 FOR UPDATE`,
			event.EntityType, event.EntityID).Scan(&last)
		if err != nil {
			return fmt.Errorf("lock entity_versions row: %w", err)
		}

		version := nextVersion(last, time.Now())

		_, err = tx.Exec(ctx, `
			UPDATE entity_versions SET version = $1
			WHERE entity_type = $2 AND entity_id = $3`,
			version, event.EntityType, event.EntityID)
		if err != nil {
			return fmt.Errorf("update entity_versions: %w", err)
		}

		payloadJSON, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		var previousJSON []byte
		if event.Previous != nil {
			previousJSON, err = json.Marshal(event.Previous)
			if err != nil {
				return fmt.Errorf("marshal previous payload: %w", err)
			}
		}

		event.Version = version
		event.Status = syncmodel.StatusPending

		_, err = tx.Exec(ctx, `
			INSERT INTO events (
				id, entity_type, entity_id, kind, source, region,
				payload, previous, version, submit_time, status,
				attempt_count, max_attempts, last_error
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			event.ID, event.EntityType, event.EntityID, string(event.Kind), event.Source, event.Region,
			payloadJSON, previousJSON, event.Version, event.SubmitTime, string(event.Status),
			event.AttemptCount, event.MaxAttempts, event.LastError)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		return tx.Commit(ctx)
	})
}

func (s *PostgresStore) Dequeue(ctx context.Context, limit int) ([]*syncmodel.SyncEvent, error) {
	var out []*syncmodel.SyncEvent
	err := s.timed("dequeue", func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin dequeue tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, `
			SELECT e.id, e.entity_type, e.entity_id, e.kind, e.source, e.region,
			       e.payload, e.previous, e.version, e.submit_time, e.status,
			       e.attempt_count, e.max_attempts, e.last_error
			FROM events e
			WHERE e.status IN ('pending', 'retrying')
			  AND NOT EXISTS (
			      SELECT 1 FROM events p
			      WHERE p.entity_type = e.entity_type AND p.entity_id = e.entity_id
			        AND p.status = 'processing'
			  )
			ORDER BY e.submit_time ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1`, limit)
		if err != nil {
			return fmt.Errorf("query dequeue candidates: %w", err)
		}

		var claimed []string
		seen := make(map[string]bool)
		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				rows.Close()
				return err
			}
			// only the earliest candidate per entity key is claimed
			if seen[ev.EntityKey()] {
				continue
			}
			seen[ev.EntityKey()] = true
			out = append(out, ev)
			claimed = append(claimed, ev.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate dequeue candidates: %w", err)
		}

		for _, id := range claimed {
			if _, err := tx.Exec(ctx, `UPDATE events SET status = 'processing' WHERE id = $1`, id); err != nil {
				return fmt.Errorf("claim event %s: %w", id, err)
			}
		}
		for _, ev := range out {
			ev.Status = syncmodel.StatusProcessing
		}

		return tx.Commit(ctx)
	})
	return out, err
}

func (s *PostgresStore) Complete(ctx context.Context, eventID string) error {
	return s.timed("complete", func() error {
		_, err := s.pool.Exec(ctx, `UPDATE events SET status = 'completed' WHERE id = $1`, eventID)
		if err != nil {
			return fmt.Errorf("complete event %s: %w", eventID, err)
		}
		return nil
	})
}

func (s *PostgresStore) Fail(ctx context.Context, eventID string, lastErr error) error {
	return s.timed("fail", func() error {
		errMsg := ""
		if lastErr != nil {
			errMsg = lastErr.Error()
		}
		_, err := s.pool.Exec(ctx, `
			UPDATE events SET
				attempt_count = attempt_count + 1,
				last_error = $2,
				status = CASE WHEN attempt_count + 1 < max_attempts THEN 'retrying' ELSE 'failed' END
			WHERE id = $1`, eventID, errMsg)
		if err != nil {
			return fmt.Errorf("fail event %s: %w", eventID, err)
		}
		return nil
	})
}

func (s *PostgresStore) FailPermanently(ctx context.Context, eventID string, lastErr error) error {
	return s.timed("fail_permanently", func() error {
		errMsg := ""
		if lastErr != nil {
			errMsg = lastErr.Error()
		}
		_, err := s.pool.Exec(ctx, `
			UPDATE events SET
				attempt_count = attempt_count + 1,
				last_error = $2,
				status = 'failed'
			WHERE id = $1`, eventID, errMsg)
		if err != nil {
			return fmt.Errorf("fail permanently event %s: %w", eventID, err)
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, eventID string) (*syncmodel.SyncEvent, error) {
	var ev *syncmodel.SyncEvent
	err := s.timed("get", func() error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, entity_type, entity_id, kind, source, region,
			       payload, previous, version, submit_time, status,
			       attempt_count, max_attempts, last_error
			FROM events WHERE id = $1`, eventID)
		e, err := scanEvent(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get event %s: %w", eventID, err)
		}
		ev = e
		return nil
	})
	return ev, err
}

func (s *PostgresStore) LatestVersion(ctx context.Context, entityType, entityID string) (int64, error) {
	var version int64
	err := s.timed("latest_version", func() error {
		err := s.pool.QueryRow(ctx, `
			SELECT version FROM entity_versions WHERE entity_type = $1 AND entity_id = $2`,
			entityType, entityID).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			version = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest version %s/%s: %w", entityType, entityID, err)
		}
		return nil
	})
	return version, err
}

func (s *PostgresStore) SaveConflict(ctx context.Context, conflict *syncmodel.ConflictRecord) error {
	return s.timed("save_conflict", func() error {
		if conflict.ID == "" {
			conflict.ID = uuid.NewString()
		}
		incoming, err := json.Marshal(conflict.IncomingPayload)
		if err != nil {
			return fmt.Errorf("marshal incoming payload: %w", err)
		}
		existing, err := json.Marshal(conflict.ExistingPayload)
		if err != nil {
			return fmt.Errorf("marshal existing payload: %w", err)
		}
		var resolved []byte
		if conflict.ResolvedPayload != nil {
			resolved, err = json.Marshal(conflict.ResolvedPayload)
			if err != nil {
				return fmt.Errorf("marshal resolved payload: %w", err)
			}
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO conflict_records (
				id, event_id, entity_type, entity_id, kind, strategy, state,
				incoming_payload, existing_payload, resolved_payload,
				detected_at, resolved_at, detail
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (event_id) DO UPDATE SET
				state = EXCLUDED.state,
				resolved_payload = EXCLUDED.resolved_payload,
				resolved_at = EXCLUDED.resolved_at`,
			conflict.ID, conflict.EventID, conflict.EntityType, conflict.EntityID,
			string(conflict.Kind), string(conflict.Strategy), string(conflict.State),
			incoming, existing, resolved, conflict.DetectedAt, conflict.ResolvedAt, conflict.Detail)
		if err != nil {
			return fmt.Errorf("save conflict for event %s: %w", conflict.EventID, err)
		}
		return nil
	})
}

func (s *PostgresStore) GetConflict(ctx context.Context, eventID string) (*syncmodel.ConflictRecord, error) {
	var record *syncmodel.ConflictRecord
	err := s.timed("get_conflict", func() error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, event_id, entity_type, entity_id, kind, strategy, state,
			       incoming_payload, existing_payload, resolved_payload,
			       detected_at, resolved_at, detail
			FROM conflict_records WHERE event_id = $1`, eventID)

		var (
			c                              syncmodel.ConflictRecord
			kind, strategy, state          string
			incoming, existing, resolved   []byte
		)
		err := row.Scan(&c.ID, &c.EventID, &c.EntityType, &c.EntityID, &kind, &strategy, &state,
			&incoming, &existing, &resolved, &c.DetectedAt, &c.ResolvedAt, &c.Detail)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get conflict for event %s: %w", eventID, err)
		}
		c.Kind = syncmodel.ConflictKind(kind)
		c.Strategy = syncmodel.ResolutionStrategy(strategy)
		c.State = syncmodel.ConflictState(state)
		if err := json.Unmarshal(incoming, &c.IncomingPayload); err != nil {
			return fmt.Errorf("unmarshal incoming payload: %w", err)
		}
		if err := json.Unmarshal(existing, &c.ExistingPayload); err != nil {
			return fmt.Errorf("unmarshal existing payload: %w", err)
		}
		if len(resolved) > 0 {
			if err := json.Unmarshal(resolved, &c.ResolvedPayload); err != nil {
				return fmt.Errorf("unmarshal resolved payload: %w", err)
			}
		}
		record = &c
		return nil
	})
	return record, err
}

func (s *PostgresStore) EventsSince(ctx context.Context, entityType string, afterVersion int64, limit int) ([]*syncmodel.SyncEvent, error) {
	var out []*syncmodel.SyncEvent
	err := s.timed("events_since", func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, entity_type, entity_id, kind, source, region,
			       payload, previous, version, submit_time, status,
			       attempt_count, max_attempts, last_error
			FROM events
			WHERE entity_type = $1 AND version > $2
			ORDER BY version ASC
			LIMIT $3`, entityType, afterVersion, limit)
		if err != nil {
			return fmt.Errorf("query events since %d: %w", afterVersion, err)
		}
		defer rows.Close()

		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) SaveCursor(ctx context.Context, cursor *syncmodel.ReplicationCursor) error {
	return s.timed("save_cursor", func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO replication_cursors
				(region, source_region, entity_type, position, state, lag_seconds, failed_count, last_error, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (region, source_region, entity_type) DO UPDATE SET
				position = EXCLUDED.position, state = EXCLUDED.state,
				lag_seconds = EXCLUDED.lag_seconds, failed_count = EXCLUDED.failed_count,
				last_error = EXCLUDED.last_error, updated_at = EXCLUDED.updated_at`,
			cursor.Region, cursor.SourceRegion, cursor.EntityType, cursor.Position, cursor.State,
			cursor.LagSeconds, cursor.FailedCount, cursor.LastError, cursor.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save cursor %s/%s: %w", cursor.Region, cursor.EntityType, err)
		}
		return nil
	})
}

func (s *PostgresStore) GetCursor(ctx context.Context, region, entityType string) (*syncmodel.ReplicationCursor, error) {
	var cursor *syncmodel.ReplicationCursor
	err := s.timed("get_cursor", func() error {
		var c syncmodel.ReplicationCursor
		err := s.pool.QueryRow(ctx, `
			SELECT region, source_region, entity_type, position, state, lag_seconds, failed_count, last_error, updated_at
			FROM replication_cursors WHERE region = $1 AND entity_type = $2`,
			region, entityType).Scan(&c.Region, &c.SourceRegion, &c.EntityType, &c.Position, &c.State,
			&c.LagSeconds, &c.FailedCount, &c.LastError, &c.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get cursor %s/%s: %w", region, entityType, err)
		}
		cursor = &c
		return nil
	})
	return cursor, err
}

func (s *PostgresStore) PutSideValue(ctx context.Context, namespace, key, value string) error {
	return s.timed("put_side_value", func() error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO side_values (namespace, key, value)
			VALUES ($1,$2,$3)
			ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`,
			namespace, key, value)
		if err != nil {
			return fmt.Errorf("put side value %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

func (s *PostgresStore) GetSideValue(ctx context.Context, namespace, key string) (string, error) {
	var value string
	err := s.timed("get_side_value", func() error {
		err := s.pool.QueryRow(ctx, `
			SELECT value FROM side_values WHERE namespace = $1 AND key = $2`,
			namespace, key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get side value %s/%s: %w", namespace, key, err)
		}
		return nil
	})
	return value, err
}

func (s *PostgresStore) DeleteSideValue(ctx context.Context, namespace, key string) error {
	return s.timed("delete_side_value", func() error {
		_, err := s.pool.Exec(ctx, `DELETE FROM side_values WHERE namespace = $1 AND key = $2`, namespace, key)
		if err != nil {
			return fmt.Errorf("delete side value %s/%s: %w", namespace, key, err)
		}
		return nil
	})
}

func (s *PostgresStore) ListSideValues(ctx context.Context, namespace string) (map[string]string, error) {
	out := make(map[string]string)
	err := s.timed("list_side_values", func() error {
		rows, err := s.pool.Query(ctx, `SELECT key, value FROM side_values WHERE namespace = $1`, namespace)
		if err != nil {
			return fmt.Errorf("list side values %s: %w", namespace, err)
		}
		defer rows.Close()

		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return fmt.Errorf("scan side value: %w", err)
			}
			out[k] = v
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) SaveIntegrityCheck(ctx context.Context, check *syncmodel.IntegrityCheck) error {
	return s.timed("save_integrity_check", func() error {
		if check.ID == "" {
			check.ID = uuid.NewString()
		}
		detailsJSON, err := json.Marshal(check.Details)
		if err != nil {
			return fmt.Errorf("marshal check details: %w", err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO integrity_checks (
				id, kind, entity_type, ran_at, duration_ms,
				sampled_count, discrepancy_count, ratio, details
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			check.ID, string(check.Kind), check.EntityType, check.RanAt, check.Duration.Milliseconds(),
			check.SampledCount, check.DiscrepancyCount, check.Ratio, detailsJSON)
		if err != nil {
			return fmt.Errorf("save integrity check: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RecentIntegrityChecks(ctx context.Context, entityType string, kind syncmodel.IntegrityCheckKind, limit int) ([]*syncmodel.IntegrityCheck, error) {
	var out []*syncmodel.IntegrityCheck
	err := s.timed("recent_integrity_checks", func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT id, kind, entity_type, ran_at, duration_ms,
			       sampled_count, discrepancy_count, ratio, details
			FROM integrity_checks
			WHERE entity_type = $1 AND kind = $2
			ORDER BY ran_at DESC
			LIMIT $3`, entityType, string(kind), limit)
		if err != nil {
			return fmt.Errorf("query recent integrity checks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				c           syncmodel.IntegrityCheck
				kindStr     string
				durationMs  int64
				detailsJSON []byte
			)
			if err := rows.Scan(&c.ID, &kindStr, &c.EntityType, &c.RanAt, &durationMs,
				&c.SampledCount, &c.DiscrepancyCount, &c.Ratio, &detailsJSON); err != nil {
				return fmt.Errorf("scan integrity check: %w", err)
			}
			c.Kind = syncmodel.IntegrityCheckKind(kindStr)
			c.Duration = time.Duration(durationMs) * time.Millisecond
			if len(detailsJSON) > 0 {
				if err := json.Unmarshal(detailsJSON, &c.Details); err != nil {
					return fmt.Errorf("unmarshal check details: %w", err)
				}
			}
			out = append(out, &c)
		}
		return rows.Err()
	})
	return out, err
}

// rowScanner abstracts pgx.Row / pgx.Rows for scanEvent.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*syncmodel.SyncEvent, error) {
	var (
		ev                    syncmodel.SyncEvent
		kind, status          string
		payloadJSON, prevJSON []byte
	)
	err := row.Scan(&ev.ID, &ev.EntityType, &ev.EntityID, &kind, &ev.Source, &ev.Region,
		&payloadJSON, &prevJSON, &ev.Version, &ev.SubmitTime, &status,
		&ev.AttemptCount, &ev.MaxAttempts, &ev.LastError)
	if err != nil {
		return nil, err
	}

	ev.Kind = syncmodel.EventKind(kind)
	ev.Status = syncmodel.EventStatus(status)

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
	}
	if len(prevJSON) > 0 {
		if err := json.Unmarshal(prevJSON, &ev.Previous); err != nil {
			return nil, fmt.Errorf("unmarshal event previous payload: %w", err)
		}
	}

	return &ev, nil
}
