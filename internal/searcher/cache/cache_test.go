package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
	pkgredis "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/redis"
)

var fields = []config.FieldConfig{{Name: "title", Boost: 2}, {Name: "body", Boost: 1}}

func plan(t *testing.T, q string) *parser.QueryPlan {
	t.Helper()
	p, err := parser.Parse(q, fields)
	require.NoError(t, err)
	return p
}

func TestKey_Normalization(t *testing.T) {
	k := Key(plan(t, "fox dog"), 0.1, 10)
	assert.Equal(t, k, Key(plan(t, "  DOG   fox "), 0.1, 10))
	assert.Contains(t, k, keyPrefix)
	assert.NotEqual(t, k, Key(plan(t, "fox dog"), 0.2, 10))
	assert.NotEqual(t, k, Key(plan(t, "fox dog"), 0.1, 20))
	assert.NotEqual(t, k, Key(plan(t, "fox -dog"), 0.1, 10))
	assert.NotEqual(t, k, Key(plan(t, "fox dog sort:newest"), 0.1, 10))
	assert.Equal(t, k, Key(plan(t, "fox dog sort:relevance"), 0.1, 10))
}

func TestEncodeDecode(t *testing.T) {
	in := &proto.SearchResponse{Query: "fox", TotalHits: 3, Results: []proto.SearchResult{{DocID: "a", Score: 2.5}}}
	data, err := encode(in)
	require.NoError(t, err)

	var out proto.SearchResponse
	require.NoError(t, decode(data, &out))
	assert.Equal(t, *in, out)

	assert.Error(t, decode([]byte("not zstd"), &out))
}

// skipIfNoRedis skips the test when Redis is unavailable. Tests use a
// dedicated database that is flushed of search keys on cleanup.
func skipIfNoRedis(t *testing.T) (*pkgredis.Client, config.RedisConfig) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	cfg := config.RedisConfig{Addr: addr, DB: 15, PoolSize: 4, CacheTTL: time.Minute}
	client, err := pkgredis.NewClient(cfg)
	if err != nil {
		t.Skipf("skipping cache test: redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		_, _ = client.FlushByPattern(context.Background(), keyPrefix+"*")
		client.Close()
	})
	_, err = client.FlushByPattern(context.Background(), keyPrefix+"*")
	require.NoError(t, err)
	return client, cfg
}

func TestQueryCache_GetOrCompute(t *testing.T) {
	client, cfg := skipIfNoRedis(t)
	c := New(client, cfg, nil)
	ctx := context.Background()
	p := plan(t, "fox")

	var calls atomic.Int32
	compute := func() (*proto.SearchResponse, error) {
		calls.Add(1)
		return &proto.SearchResponse{
			Query:     "fox",
			TotalHits: 1,
			Results:   []proto.SearchResult{{DocID: "a", Score: 1.5}},
		}, nil
	}

	resp, cached, err := c.GetOrCompute(ctx, p, 0.1, 10, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	resp.Results[0].Title = "mutated"

	resp, cached, err = c.GetOrCompute(ctx, p, 0.1, 10, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "a", resp.Results[0].DocID)
	assert.Empty(t, resp.Results[0].Title)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Keys)
	assert.Equal(t, "closed", stats.Breaker)

	deleted, err := c.Invalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	_, ok := c.Get(ctx, Key(p, 0.1, 10))
	assert.False(t, ok)
}

func TestQueryCache_ConcurrentMissesComputeOnce(t *testing.T) {
	client, cfg := skipIfNoRedis(t)
	c := New(client, cfg, nil)

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (*proto.SearchResponse, error) {
		calls.Add(1)
		<-release
		return &proto.SearchResponse{Results: []proto.SearchResult{}}, nil
	}

	p := plan(t, "dog")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), p, 0, 5, compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestQueryCache_PartialResultsAndErrorsNotCached(t *testing.T) {
	client, cfg := skipIfNoRedis(t)
	c := New(client, cfg, nil)
	ctx := context.Background()
	p := plan(t, "cat")

	_, _, err := c.GetOrCompute(ctx, p, 0, 10, func() (*proto.SearchResponse, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	_, _, err = c.GetOrCompute(ctx, p, 0, 10, func() (*proto.SearchResponse, error) {
		return &proto.SearchResponse{ShardsFailed: 1}, nil
	})
	require.NoError(t, err)
	_, ok := c.Get(ctx, Key(p, 0, 10))
	assert.False(t, ok)
}
