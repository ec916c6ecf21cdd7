package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/riandyrn/otelchi"
	otelchimetric "github.com/riandyrn/otelchi/metric"
	"go.opentelemetry.io/otel"

	"github.com/tenantwatch/argus/internal/api"
	"github.com/tenantwatch/argus/internal/cache"
	"github.com/tenantwatch/argus/internal/config"
	"github.com/tenantwatch/argus/internal/db"
	"github.com/tenantwatch/argus/internal/logger"
	"github.com/tenantwatch/argus/internal/metrics"
	"github.com/tenantwatch/argus/internal/middleware"
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
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.ServiceName, cfg.ServiceVersion, cfg.Env, cfg.OtelExporterOTLPEndpoint, cfg.OTLPHeaders())
		if err != nil {
			slog.Warn("Failed to init telemetry", "error", err)
		} else {
			defer shutdown(ctx)
		}
	}

	// Initialize Sentry
	sentry.Init(cfg.SentryDSN, cfg.Env, cfg.ServiceName, cfg.ServiceVersion)
	if cfg.SentryDSN != "" {
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

	// Redis-backed run summary cache; a failed connection degrades reads to
	// aggregate counts only
	redisClient, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("Failed to connect to Redis, serving runs without summaries", "error", err)
		redisClient = nil
	}
	summaries := cache.NewRunSummaryCache(redisClient)

	// Asynq client for enqueuing runs
	asynqClient := worker.NewClient(cfg.RedisURL)
	defer worker.Close(asynqClient)

	// API handlers
	apiServer := api.NewServer(cfg, runStore, summaries, asynqClient)

	// Router
	r := chi.NewRouter()

	// Middleware
	r.Use(otelchi.Middleware("argus-server",
		otelchi.WithChiRoutes(r),
		otelchi.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
	))

	// HTTP metrics
	metricCfg := otelchimetric.NewBaseConfig("argus-server", otelchimetric.WithMeterProvider(otel.GetMeterProvider()))
	r.Use(otelchimetric.NewRequestDurationMillis(metricCfg))
	r.Use(otelchimetric.NewRequestInFlight(metricCfg))
	r.Use(otelchimetric.NewResponseSizeBytes(metricCfg))

	r.Use(sentry.HTTPMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg))
		r.Post("/v1/runs", apiServer.HandleStartRun)
		r.Get("/v1/runs", apiServer.HandleListRuns)
		r.Get("/v1/runs/{runID}", apiServer.HandleGetRun)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/v1/admin/cache/purge", apiServer.HandlePurgeCache)
		})
	})

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	slog.Info("Starting server", "port", port)

	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
