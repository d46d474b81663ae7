// Command ingestion starts the document ingestion HTTP service.
//
// The service accepts documents via POST /api/v1/documents, validates them,
// records them as PENDING in PostgreSQL when it is reachable, and
// publishes them to Kafka for the indexer.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/postgres"
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
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	checker := health.NewChecker()
	var (
		store    publisher.Recorder
		statuses handler.StatusReader
	)
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, documents are published without status tracking", "error", err)
		checker.Register("postgres", health.Ping(nil, false))
	} else {
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		docs := docstore.New(db.DB)
		store, statuses = docs, docs
		checker.Register("postgres", health.Ping(db.Ping, false))
		slog.Info("connected to postgres")
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentIngest)

	h := handler.New(publisher.New(store, producer, cfg.Indexer.NumShards), statuses, m)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Status)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	middlewares := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Recover}
	if m != nil {
		middlewares = append(middlewares, middleware.Metrics(m))
	}
	if cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares, middleware.RateLimit(middleware.NewClientLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)))
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Chain(mux, middlewares...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		checker.Drain()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
