// Command directory starts the registry directory service.
//
// The directory fronts the CASFOS records backend. It authenticates requests
// with role-carrying API keys (SHA-256 validated against PostgreSQL), applies
// per-key rate limiting, filters faculty and asset lists either in memory
// over Redis-cached lists or through the backend filter endpoint, and runs
// the role-gated review actions. Review, filter and record-change events are
// published to Kafka for the audit service; record-change events are also
// consumed here to invalidate cached lists.
//
// Usage:
//
//	go run ./cmd/directory [-config configs/development.yaml]
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

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/audit/collector"
	"github.com/casfos/registry/internal/auth/apikey"
	"github.com/casfos/registry/internal/auth/ratelimit"
	"github.com/casfos/registry/internal/backend"
	"github.com/casfos/registry/internal/directory/cache"
	"github.com/casfos/registry/internal/directory/handler"
	dirmw "github.com/casfos/registry/internal/directory/middleware"
	"github.com/casfos/registry/internal/directory/router"
	"github.com/casfos/registry/internal/listing"
	"github.com/casfos/registry/internal/review"
	"github.com/casfos/registry/pkg/config"
	"github.com/casfos/registry/pkg/health"
	"github.com/casfos/registry/pkg/kafka"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/metrics"
	"github.com/casfos/registry/pkg/postgres"
	pkgredis "github.com/casfos/registry/pkg/redis"
)

const (
	auditBufferSize     = 1000
	filterBatchSize     = 100
	filterFlushInterval = 2 * time.Second
	changeQuietPeriod   = 2 * time.Second
	requestTimeout      = 25 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting directory service",
		"port", cfg.Server.Port,
		"backend", cfg.Backend.BaseURL(),
		"default_mode", cfg.Search.DefaultMode,
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("directory", cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() { _ = shutdownMetrics(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Records backend.
	records := backend.New(cfg.Backend, m)

	// Redis list cache. The service still works without it, just slower.
	var rc *pkgredis.Client
	if c, err := pkgredis.NewClient(cfg.Redis); err != nil {
		slog.Warn("redis unavailable, running without list cache", "error", err)
	} else {
		rc = c
		defer rc.Close()
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}
	recordCache := cache.New(rc, cfg.Redis.CacheTTL, m)

	// PostgreSQL for API keys.
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	keys := apikey.NewValidator(db)
	if err := keys.EnsureSchema(ctx); err != nil {
		slog.Error("failed to create api key schema", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	// Kafka publishers. Collectors run on their own context so they can
	// drain after the HTTP server has stopped.
	reviewProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ReviewEvents)
	defer reviewProducer.Close()
	filterProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.FilterEvents)
	defer filterProducer.Close()
	changeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RecordChanges)
	defer changeProducer.Close()

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()

	reviewEvents := audit.NewCollector(reviewProducer, auditBufferSize, m)
	reviewEvents.Start(workCtx)
	changeEvents := audit.NewCollector(changeProducer, auditBufferSize, m)
	changeEvents.Start(workCtx)
	filterEvents := collector.NewBatchCollector(filterProducer, filterBatchSize, filterFlushInterval)
	filterEvents.Start(workCtx)

	// Record changes from any directory instance invalidate cached lists.
	changes := cache.NewChangeListener(recordCache, changeQuietPeriod, nil)
	changeConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RecordChanges, "directory-cache", changes.Handle)
	go func() {
		if err := changeConsumer.Start(ctx); err != nil {
			slog.Error("record change consumer error", "error", err)
		}
	}()

	reviews := review.NewService(records, reviewEvents, changeEvents, m)

	h, err := handler.New(handler.Config{
		DefaultMode:    listing.Mode(cfg.Search.DefaultMode),
		SortLocale:     cfg.Search.SortLocale,
		DetailMaxDepth: cfg.Search.DetailMaxDepth,
		UploadsBase:    cfg.Backend.UploadsURL(),
	}, handler.Deps{
		Backend: records,
		Cache:   recordCache,
		Reviews: reviews,
		Keys:    keys,
		Filters: filterEvents,
		Metrics: m,
	})
	if err != nil {
		slog.Error("failed to build handler", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.RegisterPing("backend", true, records.Ping)
	checker.RegisterPing("postgres", true, db.Ping)
	if rc != nil {
		checker.RegisterPing("redis", false, rc.Ping)
	}

	limiter := ratelimit.New(time.Minute)
	defer limiter.Stop()

	chain := router.New(h, router.Options{
		Validator:      keys,
		Limiter:        limiter,
		RateWindow:     time.Minute,
		RequestTimeout: requestTimeout,
		CORS:           dirmw.DefaultCORSConfig(),
		Metrics:        m,
		Health:         checker,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("directory service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	changes.Close()
	stopWork()
	reviewEvents.Close()
	changeEvents.Close()
	filterEvents.Close()

	slog.Info("directory service stopped")
}
