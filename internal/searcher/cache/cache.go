// Package cache stores zstd-compressed search responses in Redis keyed by
// the normalized query plan, tie-breaker and limit. Concurrent misses for the same key
// compute once; Redis failures trip a circuit breaker and degrade to
// uncached execution.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/resilience"
)

const keyPrefix = "search:"

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

type QueryCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// Stats is a snapshot of cache effectiveness. Keys is -1 when Redis could
// not be scanned.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Keys    int64   `json:"keys"`
	Breaker string  `json:"breaker"`
}

// New creates a query cache. m may be nil.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     cfg.CacheTTL,
		breaker: resilience.NewCircuitBreaker("redis-cache", breakerThreshold, breakerCooldown),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Key derives the cache key for a plan. Plans that differ only in term
// order, case or spacing share a key.
func Key(plan *parser.QueryPlan, tieBreaker float64, limit int) string {
	raw := plan.Normalized() + "|tie=" + strconv.FormatFloat(tieBreaker, 'g', -1, 64) + "|limit=" + strconv.Itoa(limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// Get returns the cached response for key. Any failure counts as a miss.
func (c *QueryCache) Get(ctx context.Context, key string) (*proto.SearchResponse, bool) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			data = nil
			return nil
		}
		return err
	})
	c.reportBreaker()
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if data == nil {
		c.miss()
		return nil, false
	}
	var resp proto.SearchResponse
	if err := decode(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &resp, true
}

// Set stores resp under key. Responses missing shards are not cached.
func (c *QueryCache) Set(ctx context.Context, key string, resp *proto.SearchResponse) {
	if resp.ShardsFailed > 0 {
		return
	}
	data, err := encode(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, key, data, c.ttl)
	})
	c.reportBreaker()
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for the plan or computes,
// caches and returns it. Concurrent callers with the same key share one
// computation. The returned response is the caller's own copy.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.QueryPlan,
	tieBreaker float64,
	limit int,
	compute func() (*proto.SearchResponse, error),
) (*proto.SearchResponse, bool, error) {
	key := Key(plan, tieBreaker, limit)
	if resp, ok := c.Get(ctx, key); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return clone(val.(*proto.SearchResponse)), false, nil
}

// Invalidate drops every cached search response and returns how many keys
// were removed.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Keys:    -1,
		Breaker: c.breaker.State().String(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if n, err := c.client.CountByPattern(ctx, keyPrefix+"*"); err == nil {
		s.Keys = n
	} else {
		c.logger.Warn("counting cache keys failed", "error", err)
	}
	return s
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) reportBreaker() {
	if c.metrics != nil {
		c.metrics.CircuitBreakerState.WithLabelValues("redis-cache").Set(float64(c.breaker.State()))
	}
}

func encode(resp *proto.SearchResponse) ([]byte, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func decode(data []byte, resp *proto.SearchResponse) error {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return json.Unmarshal(raw, resp)
}

func clone(resp *proto.SearchResponse) *proto.SearchResponse {
	out := *resp
	out.Results = slices.Clone(resp.Results)
	return &out
}
