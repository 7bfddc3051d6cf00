// Package main is the entry point for the synchronization engine process:
// it loads configuration, connects to Postgres and Redis, applies pending
// migrations, wires the sync engine, replicator, cache invalidator, and
// integrity auditor together, and runs until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/syncengine/internal/adapter"
	"github.com/vitaliisemenov/syncengine/internal/auditor"
	"github.com/vitaliisemenov/syncengine/internal/cacheinvalidate"
	"github.com/vitaliisemenov/syncengine/internal/conflict"
	"github.com/vitaliisemenov/syncengine/internal/config"
	"github.com/vitaliisemenov/syncengine/internal/eventstore"
	infracache "github.com/vitaliisemenov/syncengine/internal/infrastructure/cache"
	"github.com/vitaliisemenov/syncengine/internal/infrastructure/migrations"
	"github.com/vitaliisemenov/syncengine/internal/replication"
	"github.com/vitaliisemenov/syncengine/internal/syncengine"
	"github.com/vitaliisemenov/syncengine/internal/syncmodel"
	"github.com/vitaliisemenov/syncengine/pkg/logger"
	"github.com/vitaliisemenov/syncengine/pkg/metrics"
)

const (
	serviceName    = "syncengine"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	log.Info("starting synchronization engine", "service", serviceName, "version", serviceVersion, "region", cfg.Replication.Region)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Database)

	migrator, err := migrations.NewManager(&migrations.Config{DSN: cfg.Database.URL(), Logger: log})
	if err != nil {
		log.Error("failed to initialize migration manager", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(ctx); err != nil {
		log.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	migrator.Close()
	log.Info("migrations applied")

	redisCache, err := infracache.NewRedisCache(&infracache.CacheConfig{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		PoolSize:        cfg.Redis.PoolSize,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		DialTimeout:     cfg.Redis.DialTimeout,
		ReadTimeout:     cfg.Redis.ReadTimeout,
		WriteTimeout:    cfg.Redis.WriteTimeout,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinRetryBackoff: cfg.Redis.MinRetryBackoff,
		MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
	}, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()
	log.Info("connected to redis", "addr", cfg.Redis.Addr)

	tieredCache, err := infracache.NewTieredCache(redisCache, 1024)
	if err != nil {
		log.Error("failed to build tiered cache", "error", err)
		os.Exit(1)
	}

	registry := metrics.DefaultRegistry()

	store := eventstore.NewPostgresStore(pool, log)
	resolver := conflict.NewResolver()
	invalidator := cacheinvalidate.New(store, registry.Cache(), log)

	primaryDB := adapter.NewPostgresAdapter("primary-db", pool, log)
	cacheAdapter := adapter.NewCacheAdapter("redis-cache", tieredCache, 0, log)
	invalidator.RegisterProvider("redis-cache", cacheAdapter)

	sharedAdapters := map[string]adapter.Adapter{
		"primary-db":  primaryDB,
		"redis-cache": cacheAdapter,
	}

	var transport replication.Transport
	if len(cfg.Replication.Endpoints) > 0 {
		transport = replication.NewHTTPTransport(cfg.Replication.Endpoints)
	}
	replicator := replication.New(store, transport, cfg.Engine.WorkerPoolSize, registry.Replication(), log)

	auditorSvc := auditor.New(store, registry.Audit(), log)

	engine, err := syncengine.New(syncengine.Config{
		Store:          store,
		Resolver:       resolver,
		Invalidator:    invalidator,
		Replicator:     replicator,
		Metrics:        registry.Sync(),
		Logger:         log,
		Workers:        cfg.Engine.WorkerPoolSize,
		ProcessTimeout: cfg.Engine.ProcessTimeout,
	})
	if err != nil {
		log.Error("failed to construct sync engine", "error", err)
		os.Exit(1)
	}

	for _, ec := range cfg.Entities {
		syncCfg := ec.ToEntitySyncConfig()

		engine.RegisterEntityConfig(syncCfg)
		auditorSvc.RegisterEntityConfig(syncCfg)

		for _, target := range syncCfg.Targets {
			a, ok := sharedAdapters[target.Name]
			if !ok {
				log.Warn("no adapter configured for target, skipping", "entity_type", ec.EntityType, "target", target.Name)
				continue
			}
			engine.RegisterAdapter(ec.EntityType, a)
			if target.Kind == syncmodel.AdapterDatabase {
				auditorSvc.RegisterSource(ec.EntityType, a)
			}
		}
	}

	if err := engine.Start(ctx); err != nil {
		log.Error("failed to start sync engine", "error", err)
		os.Exit(1)
	}

	go replicator.MonitorLag(ctx)
	go invalidator.Run(ctx)
	go auditorSvc.Start(ctx)

	if cfg.Metrics.Enabled {
		metricsManager := metrics.NewMetricsManager(metrics.Config{
			Enabled:   true,
			Path:      cfg.Metrics.Path,
			Namespace: "syncengine",
			Subsystem: "http",
		})
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metricsManager.Handler())
		metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}

		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			metricsSrv.Close()
		}()
		log.Info("metrics endpoint listening", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	log.Info("synchronization engine started", "workers", cfg.Engine.WorkerPoolSize, "entity_types", len(cfg.Entities))

	<-ctx.Done()
	log.Info("shutdown signal received, draining in-flight events")

	if err := engine.Stop(); err != nil {
		log.Error("sync engine shutdown error", "error", err)
	}

	log.Info("synchronization engine stopped")
}
