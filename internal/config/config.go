// Package config loads the sync engine's configuration via viper:
// environment variables take precedence over a YAML file (if given),
// which takes precedence over defaults, the same precedence order the
// teacher service uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
)

// Config is the root configuration for an engine process.
type Config struct {
	Database    DatabaseConfig             `mapstructure:"database"`
	Redis       RedisConfig                `mapstructure:"redis"`
	Log         LogConfig                  `mapstructure:"log"`
	Metrics     MetricsConfig              `mapstructure:"metrics"`
	Engine      EngineConfig               `mapstructure:"engine"`
	Replication ReplicationTransportConfig `mapstructure:"replication"`
	Entities    []EntityConfig             `mapstructure:"entities"`
}

// ReplicationTransportConfig names this process's own region and the HTTP
// base URL to reach every other region's ingest endpoint.
type ReplicationTransportConfig struct {
	Region    string            `mapstructure:"region"`
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// DatabaseConfig holds Postgres connection settings for the event store
// and database adapters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// URL renders a libpq connection string from the configured fields.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// RedisConfig holds connection settings for the cache adapter and cache
// invalidator's Redis provider.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds structured-logging settings consumed by pkg/logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// EngineConfig holds the sync engine's own concurrency and timing knobs.
type EngineConfig struct {
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
	ProcessTimeout      time.Duration `mapstructure:"process_timeout"`
	BackpressureWatermark int         `mapstructure:"backpressure_watermark"`
	AuditInterval       time.Duration `mapstructure:"audit_interval"`
}

// EntityConfig is the YAML/env-bindable form of syncmodel.EntitySyncConfig.
type EntityConfig struct {
	EntityType     string        `mapstructure:"entity_type"`
	Strategy       string        `mapstructure:"strategy"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`

	MergeFields    []string `mapstructure:"merge_fields"`
	IgnoreFields   []string `mapstructure:"ignore_fields"`
	CriticalFields []string `mapstructure:"critical_fields"`

	Targets []TargetEntryConfig `mapstructure:"targets"`

	Cache struct {
		Immediate    bool          `mapstructure:"immediate"`
		Lazy         bool          `mapstructure:"lazy"`
		Scheduled    bool          `mapstructure:"scheduled"`
		ScheduleTTL  time.Duration `mapstructure:"schedule_ttl"`
		Dependencies []string      `mapstructure:"dependencies"`
		Warm         bool          `mapstructure:"warm"`
	} `mapstructure:"cache"`

	Replication struct {
		Regions          []string `mapstructure:"regions"`
		CatchUpBatchSize int      `mapstructure:"catch_up_batch_size"`
		LagAlertEvents   int64    `mapstructure:"lag_alert_events"`
		MaxLagSeconds    float64  `mapstructure:"max_lag_seconds"`
	} `mapstructure:"replication"`
}

// TargetEntryConfig is one configured fanout destination.
type TargetEntryConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Required bool   `mapstructure:"required"`
}

// ToEntitySyncConfig converts the bound YAML shape into the domain type,
// applying DefaultEntitySyncConfig's defaults for any zero-valued field.
func (e EntityConfig) ToEntitySyncConfig() syncmodel.EntitySyncConfig {
	out := syncmodel.DefaultEntitySyncConfig(e.EntityType)

	if e.Strategy != "" {
		out.Strategy = syncmodel.ResolutionStrategy(e.Strategy)
	}
	if e.MaxAttempts > 0 {
		out.MaxAttempts = e.MaxAttempts
	}
	if e.ProcessTimeout > 0 {
		out.ProcessTimeout = e.ProcessTimeout
	}
	out.MergeFields = e.MergeFields
	out.IgnoreFields = e.IgnoreFields
	out.CriticalFields = e.CriticalFields

	for _, t := range e.Targets {
		out.Targets = append(out.Targets, syncmodel.TargetConfig{
			Name:     t.Name,
			Kind:     syncmodel.AdapterKind(t.Kind),
			Required: t.Required,
		})
	}

	out.Cache = syncmodel.CacheInvalidationConfig{
		Immediate:    e.Cache.Immediate,
		Lazy:         e.Cache.Lazy,
		Scheduled:    e.Cache.Scheduled,
		ScheduleTTL:  e.Cache.ScheduleTTL,
		Dependencies: e.Cache.Dependencies,
		Warm:         e.Cache.Warm,
	}

	out.Replication.Regions = e.Replication.Regions
	if e.Replication.CatchUpBatchSize > 0 {
		out.Replication.CatchUpBatchSize = e.Replication.CatchUpBatchSize
	}
	out.Replication.LagAlertEvents = e.Replication.LagAlertEvents
	if e.Replication.MaxLagSeconds > 0 {
		out.Replication.MaxLagSeconds = e.Replication.MaxLagSeconds
	}

	return out
}

// Load loads configuration from configPath (if non-empty) layered over
// defaults, with automatic environment variable bindings overriding both
// (env var names upper-case the mapstructure path with "." replaced by
// "_", e.g. SYNCENGINE_DATABASE_HOST).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("syncengine")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "syncengine")
	v.SetDefault("database.username", "syncengine")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", "100ms")
	v.SetDefault("redis.max_retry_backoff", "500ms")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("engine.worker_pool_size", 3)
	v.SetDefault("engine.process_timeout", "30s")
	v.SetDefault("engine.backpressure_watermark", 10000)
	v.SetDefault("engine.audit_interval", "1h")

	v.SetDefault("replication.region", "local")
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.Engine.WorkerPoolSize < 1 || c.Engine.WorkerPoolSize > 10 {
		return fmt.Errorf("engine worker_pool_size must be between 1 and 10, got %d", c.Engine.WorkerPoolSize)
	}

	for _, e := range c.Entities {
		if e.EntityType == "" {
			return fmt.Errorf("entity config missing entity_type")
		}
	}

	return nil
}
