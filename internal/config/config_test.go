package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Engine.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.Engine.ProcessTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
database:
  host: db.internal
  database: prod_sync
engine:
  worker_pool_size: 5
entities:
  - entity_type: order
    strategy: last-write-wins
    targets:
      - name: primary-db
        kind: database
        required: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "prod_sync", cfg.Database.Database)
	assert.Equal(t, 5, cfg.Engine.WorkerPoolSize)
	require.Len(t, cfg.Entities, 1)
	assert.Equal(t, "order", cfg.Entities[0].EntityType)

	sc := cfg.Entities[0].ToEntitySyncConfig()
	assert.Equal(t, "order", sc.EntityType)
	require.Len(t, sc.Targets, 1)
	assert.Equal(t, "primary-db", sc.Targets[0].Name)
	assert.True(t, sc.Targets[0].Required)
}

func TestConfig_Validate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())

	cfg.Database.Host = "localhost"
	cfg.Engine.WorkerPoolSize = 0
	assert.Error(t, cfg.Validate())

	cfg.Engine.WorkerPoolSize = 11
	assert.Error(t, cfg.Validate())
}

func TestEntityConfig_ToEntitySyncConfig_AppliesDefaults(t *testing.T) {
	ec := EntityConfig{EntityType: "alert"}
	sc := ec.ToEntitySyncConfig()

	assert.Equal(t, "alert", sc.EntityType)
	assert.EqualValues(t, "last-write-wins", sc.Strategy)
	assert.Equal(t, 3, sc.MaxAttempts)
	assert.Equal(t, 1000, sc.Replication.CatchUpBatchSize)
}
