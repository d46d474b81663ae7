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
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/reload"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/redis"
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
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"num_shards", cfg.Indexer.NumShards,
		"tie_breaker", cfg.Search.TieBreaker,
	)
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

	var queryCache *cache.QueryCache
	var redisPing func(context.Context) error
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis, m)
		redisPing = redisClient.Ping
		slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var titles handler.TitleStore
	var postgresPing func(context.Context) error
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, result titles disabled", "error", err)
	} else {
		defer pg.Close()
		titles = docstore.New(pg.DB)
		postgresPing = pg.Ping
	}

	// Every searcher must see every index.complete event.
	host, _ := os.Hostname()
	groupID := fmt.Sprintf("%s-searcher-%s-%d", cfg.Kafka.ConsumerGroup, host, os.Getpid())
	var reloadHandler kafka.MessageHandler
	if queryCache != nil {
		reloadHandler = reload.HandleIndexComplete(router, queryCache, m)
	} else {
		reloadHandler = reload.HandleIndexComplete(router, nil, m)
	}
	reloads := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, groupID, reloadHandler)
	go func() {
		if err := reloads.Start(ctx); err != nil {
			slog.Error("index.complete consumer error", "error", err)
		}
	}()

	shards := make([]executor.Shard, router.NumShards())
	for i, engine := range router.Engines() {
		shards[i] = engine
	}
	exec := executor.NewSharded(shards, cfg.Search.TimeoutPerShard, m)
	h := handler.New(exec, queryCache, titles, cfg.Search, m)

	checker := health.NewChecker()
	checker.Register("index_engine", func(ctx context.Context) health.ComponentHealth {
		docs := 0
		for _, s := range exec.Stats() {
			docs += s.DocCount
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d shards, %d documents", exec.NumShards(), docs)}
	})
	checker.Register("redis", health.Ping(redisPing, false))
	checker.Register("postgres", health.Ping(postgresPing, false))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/explain", h.Explain)
	mux.HandleFunc("GET /api/v1/shards", h.Shards)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	middlewares := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Recover}
	if m != nil {
		middlewares = append(middlewares, middleware.Metrics(m))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		middlewares = append(middlewares, middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
