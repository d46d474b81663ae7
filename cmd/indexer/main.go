package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
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
	slog.Info("starting indexer service", "num_shards", cfg.Indexer.NumShards, "data_dir", cfg.Indexer.DataDir)
	router, err := shard.NewRouter(cfg.Indexer)
	if err != nil {
		slog.Error("failed to create shard router", "error", err)
		os.Exit(1)
	}
	defer router.Close()

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

	var store *docstore.Store
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, document status tracking disabled", "error", err)
	} else {
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		store = docstore.New(pg.DB)
		slog.Info("document status tracking enabled", "host", cfg.Postgres.Host)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()
	consumer.AnnounceFlushes(router, producer, m)

	for shardID, engine := range router.Engines() {
		engine.StartFlushLoop(ctx)
		slog.Info("flush loop started", "shard_id", shardID)
	}

	ingest := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		cfg.Kafka.ConsumerGroup+"-indexer",
		consumer.HandleIngest(router, store, m),
	)
	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"announce_topic", cfg.Kafka.Topics.IndexComplete,
	)
	if err := ingest.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("flushing all shards before shutdown")
	if err := router.FlushAll(); err != nil {
		slog.Error("final flush failed", "error", err)
	}
	slog.Info("indexer service stopped")
}
