// Package main is the entry point for the ingestion API server.
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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trustpipe/trustpipe/internal/api"
	"github.com/trustpipe/trustpipe/internal/audit"
	"github.com/trustpipe/trustpipe/internal/auth"
	"github.com/trustpipe/trustpipe/internal/config"
	"github.com/trustpipe/trustpipe/internal/db"
	"github.com/trustpipe/trustpipe/internal/health"
	"github.com/trustpipe/trustpipe/internal/ingest"
	"github.com/trustpipe/trustpipe/internal/middleware"
	"github.com/trustpipe/trustpipe/internal/security"
	"github.com/trustpipe/trustpipe/internal/source"
	"github.com/trustpipe/trustpipe/internal/trusted"
	"github.com/trustpipe/trustpipe/internal/user"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	migrateOnly := flag.Bool("migrate", false, "apply pending migrations and exit")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Trustpipe API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	if *migrateOnly || cfg.AutoMigrate {
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema is current")
		if *migrateOnly {
			return
		}
	}

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	sources := source.NewPostgresRegistry(pool, logger)
	users := user.NewPostgresRepository(pool, logger)
	secRepo := security.NewPostgresRepository(pool, logger)
	auditRepo := audit.NewPostgresRepository(pool, logger)
	trustedRepo := trusted.NewPostgresRepository(pool, logger)
	store := ingest.NewPostgresStore(pool, logger)

	// Metrics
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	pipeMetrics := ingest.NewMetrics()
	if err := pipeMetrics.Register(registry); err != nil {
		logger.Error("failed to register pipeline metrics", "error", err)
		os.Exit(1)
	}
	secMetrics := security.NewMetrics()
	if err := secMetrics.Register(registry); err != nil {
		logger.Error("failed to register security metrics", "error", err)
		os.Exit(1)
	}
	instrumentedSecRepo := security.NewInstrumentedRepository(secRepo, secMetrics)

	// Services
	tokens := auth.NewTokenService(cfg.JWTSecret, time.Duration(cfg.JWTExpiryMinutes)*time.Minute)
	guard := api.NewGuard(sources, users, tokens, instrumentedSecRepo, logger)
	pipeline := ingest.NewPipeline(sources, store, logger, pipeMetrics)

	rateLimitStore := middleware.NewInMemoryRateLimitStore()
	go func() {
		for range time.Tick(5 * time.Minute) {
			rateLimitStore.Cleanup()
		}
	}()

	handler := api.NewRouter(api.RouterConfig{
		Guard:          guard,
		Ingest:         api.NewIngestHandlers(pipeline, guard, logger),
		Auth:           api.NewAuthHandlers(users, tokens, logger),
		Trusted:        api.NewTrustedHandlers(trustedRepo, trusted.NewService(trustedRepo), sources, logger),
		Rejections:     api.NewRejectionHandlers(store, logger),
		Audit:          api.NewAuditHandlers(auditRepo, logger),
		SecurityEvents: api.NewSecurityEventHandlers(secRepo, logger),
		Stats:          api.NewStatsHandlers(store, logger),
		Health:         api.NewHealthHandlers(health.NewDBChecker(pool)),
		Metrics:        httpMetrics,
		PromRegistry:   registry,
		RateLimitStore: rateLimitStore,
		IngestLimit: middleware.RateLimitConfig{
			RequestsPerWindow: cfg.IngestRateLimit,
			WindowDuration:    time.Minute,
		},
		LoginLimit: middleware.RateLimitConfig{
			RequestsPerWindow: cfg.LoginRateLimit,
			WindowDuration:    time.Minute,
		},
		Logger: logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
