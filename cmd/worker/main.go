package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/joho/godotenv/autoload"

	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/config"
	"github.com/tenantwatch/argus/internal/db"
	"github.com/tenantwatch/argus/internal/guardrail"
	"github.com/tenantwatch/argus/internal/logger"
	"github.com/tenantwatch/argus/internal/metrics"
	"github.com/tenantwatch/argus/internal/sentry"
	"github.com/tenantwatch/argus/internal/telemetry"
	"github.com/tenantwatch/argus/internal/worker"
)

func main() {
	defer sentry.Recover()

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize telemetry
	if cfg.OtelExporterOTLPEndpoint != "" {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.ServiceName+"-worker", cfg.ServiceVersion, cfg.Env, cfg.OtelExporterOTLPEndpoint, cfg.OTLPHeaders())
		if err != nil {
			slog.Warn("Failed to init telemetry", "error", err)
		} else {
			defer shutdown(ctx)
		}
	}

	// Initialize Sentry
	if err := sentry.Init(cfg.SentryDSN, cfg.Env, cfg.ServiceName+"-worker", cfg.ServiceVersion); err != nil {
		slog.Warn("Failed to init Sentry", "error", err)
	} else if cfg.SentryDSN != "" {
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize business metrics
	if err := metrics.Init(); err != nil {
		slog.Warn("Failed to init business metrics", "error", err)
	}

	// Initialize logger with OTel support
	logger := logger.New(cfg.Env)
	slog.SetDefault(logger) // Set as default so slog.Info() uses our handler

	// Database connection
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	runStore := db.NewRunStore(pool)

	// Shared lookup cache for checks. Long-lived keys survive across runs
	// within the TTL; run-scoped keys are released after each run.
	scratch, err := cache.New(cache.Options{DefaultTTL: cfg.Assessment.CacheTTL()})
	if err != nil {
		log.Fatalf("Failed to create lookup cache: %v", err)
	}
	if err := metrics.RegisterCacheMetrics(scratch); err != nil {
		slog.Warn("Failed to register cache metrics", "error", err)
	}

	// Redis-backed run summary cache
	redisClient, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("Failed to connect to Redis, run summaries will not be cached", "error", err)
		redisClient = nil
	}
	summaries := cache.NewRunSummaryCache(redisClient)

	// Check registry. Guardrail packages register their checks here.
	registry := guardrail.NewRegistry()
	registry.MustRegister(guardrail.HeartbeatCheck{})

	executor, err := guardrail.NewExecutor(registry, guardrail.ExecutorConfig{
		MaxConcurrent: cfg.Assessment.MaxConcurrentChecks,
		CheckTimeout:  cfg.Assessment.CheckTimeout(),
	})
	if err != nil {
		log.Fatalf("Invalid assessment config: %v", err)
	}

	broadcaster := worker.NewProgressBroadcaster(cfg.ProgressWebhookURL, cfg.ProgressWebhookToken)

	workerMetrics, err := worker.NewWorkerMetrics()
	if err != nil {
		slog.Warn("Failed to init worker metrics", "error", err)
	}

	// Run processor
	processor := worker.NewRunProcessor(
		runStore,
		executor,
		scratch,
		summaries,
		broadcaster,
		cfg,
		workerMetrics,
	)

	// Asynq server
	srv := worker.NewServer(cfg.RedisURL)

	// Register handlers
	mux := asynq.NewServeMux()
	mux.Use(worker.SentryMiddleware)
	mux.Use(worker.OTelMiddleware)
	mux.HandleFunc(worker.TypeAssessmentRun, processor.HandleAssessmentRun)
	mux.HandleFunc(worker.TypeCleanupRuns, processor.HandleCleanupRuns)

	// Periodic tasks: scheduled assessments and run cleanup
	scheduler, err := worker.NewScheduler(cfg.RedisURL, cfg)
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutting down worker...")
		srv.Shutdown()
	}()

	slog.Info("Starting worker",
		"checks", registry.Names(),
		"max_concurrent", cfg.Assessment.MaxConcurrentChecks,
		"schedule", cfg.Assessment.Schedule)

	if err := srv.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
