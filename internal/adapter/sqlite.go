package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitaliisemenov/syncengine/internal/core/resilience"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// SQLiteAdapter is a secondary-database target backed by an embedded
// SQLite file, used for entity types configured with a local fallback
// store alongside their primary Postgres target.
type SQLiteAdapter struct {
	name   string
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteAdapter opens (or creates) the SQLite database at path and
// ensures the synced_entities table exists.
func NewSQLiteAdapter(name, path string, logger *slog.Logger) (*SQLiteAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers anyway

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS synced_entities (
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			payload     TEXT NOT NULL,
			version     INTEGER NOT NULL,
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create synced_entities table: %w", err)
	}

	return &SQLiteAdapter{name: name, db: db, logger: logger}, nil
}

func (s *SQLiteAdapter) Name() string               { return s.name }
func (s *SQLiteAdapter) Kind() syncmodel.AdapterKind { return syncmodel.AdapterDatabase }

func (s *SQLiteAdapter) Apply(ctx context.Context, event *syncmodel.SyncEvent) error {
	if event.Kind == syncmodel.EventDelete {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM synced_entities WHERE entity_type = ? AND entity_id = ? AND version <= ?`,
			event.EntityType, event.EntityID, event.Version)
		if err != nil {
			return resilience.ClassifyAdapterError(fmt.Errorf("sqlite delete %s/%s: %w", event.EntityType, event.EntityID, err))
		}
		return nil
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return resilience.Permanent("sqlite_marshal", fmt.Errorf("marshal payload: %w", err))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE synced_entities SET payload = ?, version = ?, updated_at = ?
		WHERE entity_type = ? AND entity_id = ? AND version < ?`,
		payloadJSON, event.Version, time.Now().UTC().Format(time.RFC3339Nano),
		event.EntityType, event.EntityID, event.Version)
	if err != nil {
		return resilience.ClassifyAdapterError(fmt.Errorf("sqlite update %s/%s: %w", event.EntityType, event.EntityID, err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	if affected > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO synced_entities (entity_type, entity_id, payload, version, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.EntityType, event.EntityID, payloadJSON, event.Version, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return resilience.ClassifyAdapterError(fmt.Errorf("sqlite insert %s/%s: %w", event.EntityType, event.EntityID, err))
	}
	return nil
}

// Read returns the currently stored payload for an entity, or ErrNotFound
// if no row exists.
func (s *SQLiteAdapter) Read(ctx context.Context, entityType, entityID string) (syncmodel.Payload, error) {
	var payloadJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM synced_entities WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&payloadJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, resilience.ClassifyAdapterError(fmt.Errorf("sqlite read %s/%s: %w", entityType, entityID, err))
	}

	var payload syncmodel.Payload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, resilience.Permanent("sqlite_unmarshal", fmt.Errorf("unmarshal payload: %w", err))
	}
	return payload, nil
}

func (s *SQLiteAdapter) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return resilience.ClassifyAdapterError(err)
	}
	return nil
}

func (s *SQLiteAdapter) Close() error {
	return s.db.Close()
}
