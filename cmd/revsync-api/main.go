// Package main is the entry point for the revsync-api server.
// The operator API is guarded by a single bearer token; app and connection
// management proper belong to the product backend that calls this service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/revsync-api/internal/config"
	"github.com/jmylchreest/revsync-api/internal/database"
	"github.com/jmylchreest/revsync-api/internal/http/handlers"
	"github.com/jmylchreest/revsync-api/internal/http/mw"
	"github.com/jmylchreest/revsync-api/internal/http/routes"
	"github.com/jmylchreest/revsync-api/internal/logging"
	"github.com/jmylchreest/revsync-api/internal/metrics"
	"github.com/jmylchreest/revsync-api/internal/repository"
	"github.com/jmylchreest/revsync-api/internal/service"
	"github.com/jmylchreest/revsync-api/internal/version"
	"github.com/jmylchreest/revsync-api/internal/worker"
)

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	logger.Info("starting revsync-api", "build", version.Get())

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(database.Options{
		DSN:        cfg.DatabaseURL,
		TursoURL:   cfg.TursoURL,
		TursoToken: cfg.TursoAuthToken,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	schemaVersion, migrationCount, err := database.SchemaVersion(db)
	if err != nil {
		logger.Warn("failed to get schema version", "error", err)
	} else if schemaVersion != "" {
		logger.Info("database schema ready", "schema_version", schemaVersion, "migrations_applied", migrationCount)
	}

	repos := repository.NewRepositories(db)

	// Sessions left active by a previous process can never finish
	staleCount, err := repos.SyncSession.CancelStale(context.Background(), time.Now().Add(-cfg.StaleSessionTimeout))
	if err != nil {
		logger.Warn("failed to cancel stale sync sessions", "error", err)
	} else if staleCount > 0 {
		logger.Info("cancelled stale sync sessions", "count", staleCount)
	}

	// Prometheus registry (process and Go runtime collectors plus sync metrics)
	var syncMetrics *metrics.SyncMetrics
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		syncMetrics = metrics.NewSyncMetrics(registry)
	}

	services, err := service.NewServices(cfg, repos, nil, syncMetrics, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var scheduler *worker.Worker
	if cfg.SchedulerEnabled {
		scheduler = worker.New(repos.App, repos.SyncSession, services.Sync, worker.Config{
			Interval:   cfg.SchedulerInterval,
			StaleAfter: cfg.StaleSessionTimeout,
		}, logger)
		scheduler.Start(ctx)
	} else {
		logger.Info("scheduler disabled - syncs run only when triggered")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())
	router.Use(mw.Cache(mw.DefaultCacheConfig()))
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default: cfg.HTTPTimeout,
		// Debug data returns every stored snapshot for the app
		Overrides: map[string]time.Duration{"/debug": 2 * cfg.HTTPTimeout},
		// Webhooks must always answer so the sender can decide to retry
		SkipPatterns: []string{"/webhooks/"},
	}))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-API-Version", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB)
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	rateLimits := mw.DefaultRateLimitConfig()
	router.Use(mw.RateLimitByIP(rateLimits.IPRequestsPerMinute))
	router.Use(mw.RateLimitTriggers(rateLimits))
	router.Use(middleware.Throttle(100))

	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	api := humachi.New(router, routes.NewHumaConfig(cfg.BaseURL))
	api.UseMiddleware(mw.HumaAuth(api, mw.HumaAuthConfig{
		AdminToken: cfg.AdminAPIToken,
		Logger:     logger,
	}))
	if !cfg.AdminEnabled() {
		logger.Warn("ADMIN_API_TOKEN not set - operator endpoints will answer 503")
	}

	readyz := handlers.NewReadyzHandler(db)
	routes.Register(api, &routes.Handlers{
		HealthCheck: handlers.HealthCheck,
		Livez:       handlers.Livez,
		Readyz:      readyz.Readyz,
		Sync:        handlers.NewSyncHandler(services.Sync),
		Metrics:     handlers.NewMetricsHandler(services.Metrics),
		Admin:       handlers.NewAdminHandler(repos.App, services.Credentials),
		Webhooks:    handlers.NewWebhookHandler(services.Notifications, logger),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop scheduling before interrupting running sessions
		cancel()
		if scheduler != nil {
			scheduler.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer shutdownCancel()

		if err := services.Sync.Shutdown(shutdownCtx); err != nil {
			logger.Warn("sync sessions did not stop in time", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server",
		"port", cfg.Port,
		"base_url", cfg.BaseURL,
		"scheduler", cfg.SchedulerEnabled,
		"metrics", cfg.MetricsEnabled,
		"app_store_notifications", cfg.NotificationsEnabled(),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
