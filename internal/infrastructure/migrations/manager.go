// Package migrations applies the engine's goose-based SQL schema
// (events, entity_versions, conflict_records, replication_cursors,
// side_values, integrity_checks) against a Postgres database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Config controls how migrations are located and applied.
type Config struct {
	DSN     string
	Dialect string // default "postgres"
	Table   string // goose version table, default "goose_db_version"
	Timeout time.Duration

	Logger *slog.Logger
}

// Manager owns the sql.DB used to apply migrations. It does not own the
// pgxpool.Pool the rest of the engine uses for query traffic — callers
// open a separate database/sql connection for the migration run and
// close it afterward.
type Manager struct {
	config *Config
	db     *sql.DB
	logger *slog.Logger
}

// NewManager opens a database/sql connection dedicated to running
// migrations.
func NewManager(config *Config) (*Manager, error) {
	if config.Dialect == "" {
		config.Dialect = "postgres"
	}
	if config.Table == "" {
		config.Table = "goose_db_version"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open migration connection: %w", err)
	}

	goose.SetTableName(config.Table)
	goose.SetBaseFS(embeddedMigrations)

	return &Manager{config: config, db: db, logger: logger}, nil
}

// Close releases the migration connection.
func (m *Manager) Close() error {
	return m.db.Close()
}

// Up applies every pending migration.
func (m *Manager) Up(ctx context.Context) error {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	start := time.Now()
	if err := goose.UpContext(ctx, m.db, "sql"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	m.logger.Info("migrations applied", "duration", time.Since(start))
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.DownContext(ctx, m.db, "sql"); err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

// Status reports the current applied version.
func (m *Manager) Status(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db)
}
