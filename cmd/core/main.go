// Package main is the entry point for the RingiFlow approval-workflow
// server. It wires configuration, telemetry, storage, definitions and the
// workflow service together and runs the operational HTTP endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ringiflow/ringiflow/internal/config"
	"github.com/ringiflow/ringiflow/internal/definition"
	"github.com/ringiflow/ringiflow/internal/observability"
	"github.com/ringiflow/ringiflow/internal/store"
	"github.com/ringiflow/ringiflow/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "ringiflow-core", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load definitions, validate, build registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(defs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return 1
	}

	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Step 5: Initialize the store.
	txm, pool, err := buildTransactionManager(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	var (
		instances store.InstanceRepository
		steps     store.StepRepository
		numbers   store.DisplayNumberAllocator
	)
	if pool != nil {
		instances = store.NewPgInstanceRepository()
		steps = store.NewPgStepRepository()
		numbers = store.NewPgDisplayNumberAllocator()
	} else {
		instances = store.NewMemoryInstanceRepository()
		steps = store.NewMemoryStepRepository()
		numbers = store.NewMemoryDisplayNumberAllocator()
	}

	// Step 6: Initialize the idempotency store.
	idem, idemChecker, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	// Step 7: Build the workflow service.
	// The tenant-facing request API is served by a separate process; this
	// binary hosts the core service with its operational endpoints only.
	workflow.NewService(workflow.ServiceParams{
		Registry:        registry,
		Router:          definition.NewRouter(),
		Txm:             txm,
		Instances:       instances,
		Steps:           steps,
		Numbers:         numbers,
		Idem:            idem,
		IdemTTL:         cfg.Idempotency.DefaultTTL,
		Logger:          logger,
		Metrics:         metrics,
		DefaultPageSize: cfg.Workflow.DefaultPageSize,
		MaxPageSize:     cfg.Workflow.MaxPageSize,
	})

	// Step 8: Build the operational HTTP router.
	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.All()) > 0 },
		IdempotencyStore:  idemChecker,
	}
	if pool != nil {
		readinessChecks.Database = poolChecker{pool}
	}

	router := chi.NewRouter()
	router.Use(observability.TracingMiddleware)
	router.Use(metrics.MetricsMiddleware)
	router.Get("/healthz", observability.HandleHealth())
	router.Get("/readyz", observability.HandleReady(readinessChecks))
	if cfg.Observability.Metrics.Enabled {
		router.Handle(cfg.Observability.Metrics.Path, observability.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if cfg.Definitions.HotReload {
		go runDefinitionReloader(bgCtx, loader, validator, registry, cfg.Definitions, metrics, logger)
	}

	// Step 10: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if pool != nil {
		pool.Close()
	}
	if idemCloser != nil {
		idemCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildTransactionManager creates the transaction manager based on config.
// Returns a nil pool for the in-memory driver.
func buildTransactionManager(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.TransactionManager, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory store")
		return store.NewMemoryTransactionManager(store.NewMemoryStore()), nil, nil
	case "postgres", "":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("database: %s environment variable not set", cfg.DSNEnv)
		}
		pool, err := store.NewPool(ctx, dsn, store.PoolOptions{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.ConnMaxLifetime,
			MaxConnIdleTime: cfg.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		return store.NewPgTransactionManager(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when deduplication is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.IdempotencyStore, observability.HealthChecker, func()) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store",
				zap.String("addr_env", cfg.AddrEnv))
			return workflow.NewMemoryIdempotencyStore(), nil, nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return workflow.NewRedisIdempotencyStore(client), redisChecker{client}, func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return workflow.NewMemoryIdempotencyStore(), nil, nil
	}
}

// runDefinitionReloader periodically re-reads definition directories and
// swaps the registry snapshot when the set changes.
func runDefinitionReloader(ctx context.Context, loader *definition.Loader, validator *definition.Validator, registry *definition.Registry, cfg config.DefinitionsConfig, metrics *observability.Metrics, logger *zap.Logger) {
	interval := cfg.ReloadEvery
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			defs, err := loader.LoadAll(cfg.Directories)
			if err != nil {
				metrics.RecordDefinitionReload("error")
				logger.Error("definition reload failed", zap.Error(err))
				continue
			}
			if verrs := validator.Validate(defs); len(verrs) > 0 {
				metrics.RecordDefinitionReload("invalid")
				for _, ve := range verrs {
					logger.Error("definition validation error", zap.String("error", ve.Error()))
				}
				continue
			}
			before := registry.Checksum()
			registry.Replace(defs)
			if registry.Checksum() != before {
				logger.Info("definitions reloaded", zap.Int("definitions", len(defs)))
			}
			metrics.RecordDefinitionReload("success")
			metrics.SetDefinitionsLoaded(float64(len(defs)))
		}
	}
}

// poolChecker adapts a pgx pool to the readiness HealthChecker interface.
type poolChecker struct {
	pool *pgxpool.Pool
}

func (c poolChecker) HealthCheck(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// redisChecker adapts a redis client to the readiness HealthChecker interface.
type redisChecker struct {
	client *redis.Client
}

func (c redisChecker) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
