// Command audit starts the registry audit service.
//
// It consumes review, filter and record-change events from Kafka, folds them
// into in-memory statistics (review counts per action and role, filter
// counts per mode and state, zero-result criteria, latency percentiles),
// writes every review event to PostgreSQL and snapshots the statistics
// periodically. GET /api/v1/audit/{stats,reviews,snapshots} serves them.
//
// Usage:
//
//	go run ./cmd/audit [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/casfos/registry/internal/audit"
	"github.com/casfos/registry/internal/audit/store"
	"github.com/casfos/registry/pkg/config"
	"github.com/casfos/registry/pkg/health"
	"github.com/casfos/registry/pkg/kafka"
	"github.com/casfos/registry/pkg/logger"
	"github.com/casfos/registry/pkg/metrics"
	"github.com/casfos/registry/pkg/middleware"
	"github.com/casfos/registry/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		slog.Error("audit service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("audit service stopped")
}

// run serves until ctx ends or a consumer or the listener fails.
func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer("audit", cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer func() { _ = shutdownMetrics(context.Background()) }()
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.NewStore(db)
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	switch last, err := st.LatestSnapshot(ctx); {
	case err != nil:
		slog.Warn("reading latest snapshot", "error", err)
	case last != nil:
		slog.Info("resuming after snapshot", "captured_at", last.CapturedAt, "total_reviews", last.TotalReviews)
	}

	aggregator := audit.NewAggregator(audit.WithAggregatorMetrics(m))
	handle := audit.HandleEvent(aggregator, st)
	st.StartPeriodicSave(ctx, aggregator, cfg.Audit.SnapshotInterval)

	checker := health.NewChecker()
	checker.RegisterPing("postgres", true, db.Ping)

	mux := http.NewServeMux()
	audit.NewHandler(aggregator, st).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.RequestID(middleware.Metrics(m)(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	// Every topic feeds the same aggregator.
	topics := []string{cfg.Kafka.Topics.ReviewEvents, cfg.Kafka.Topics.FilterEvents, cfg.Kafka.Topics.RecordChanges}
	for _, topic := range topics {
		consumer := kafka.NewConsumer(cfg.Kafka, topic, "audit", handle)
		g.Go(func() error { return consumer.Start(gctx) })
	}
	g.Go(func() error {
		slog.Info("audit service listening", "addr", server.Addr, "topics", topics)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("audit listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
