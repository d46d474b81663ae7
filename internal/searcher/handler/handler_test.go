package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
)

func searchConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxResults:           20,
		DefaultLimit:         10,
		MaxConcurrentQueries: 4,
		TieBreaker:           0.1,
		Fields:               []config.FieldConfig{{Name: "title", Boost: 2}, {Name: "body", Boost: 1}},
	}
}

type fakeSearcher struct {
	mu      sync.Mutex
	ties    []float64
	limits  []int
	sorts   []parser.SortOrder
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSearcher) Execute(_ context.Context, plan *parser.QueryPlan, tie float64, limit int) (*proto.SearchResponse, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.ties = append(f.ties, tie)
	f.limits = append(f.limits, limit)
	f.sorts = append(f.sorts, plan.Sort)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &proto.SearchResponse{Query: plan.RawQuery, TieBreaker: tie, Results: []proto.SearchResult{}}, nil
}

func (f *fakeSearcher) Explain(context.Context, *parser.QueryPlan, float64, string) (*proto.ExplainResponse, error) {
	return nil, apperrors.ErrNotSupported
}

func (f *fakeSearcher) Stats() []proto.ShardStat { return nil }

type mapTitles map[string]string

func (m mapTitles) Titles(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if t, ok := m[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func do(t *testing.T, h http.HandlerFunc, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func realSearcher(t *testing.T) *executor.Sharded {
	t.Helper()
	shards := make([]executor.Shard, 2)
	engines := make([]*indexer.Engine, 2)
	for i := range shards {
		e, err := indexer.NewEngine(config.IndexerConfig{DataDir: t.TempDir(), SegmentMaxSize: 1 << 30, FlushInterval: time.Hour})
		require.NoError(t, err)
		t.Cleanup(func() { _ = e.Close() })
		engines[i], shards[i] = e, e
	}
	docs := []struct{ id, title, body string }{
		{"a", "quick fox", "dog"},
		{"b", "dog", "fox fox"},
		{"c", "cat", "bird"},
	}
	for i, d := range docs {
		_, err := engines[i%2].IndexDocument(d.id, map[string]string{"title": d.title, "body": d.body})
		require.NoError(t, err)
	}
	return executor.NewSharded(shards, time.Second, nil)
}

func TestSearch_EndToEnd(t *testing.T) {
	h := New(realSearcher(t), nil, mapTitles{"a": "Quick Fox"}, searchConfig(), nil)

	rec, body := do(t, h.Search, "/api/v1/search?q=fox&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fox", body["query"])
	assert.EqualValues(t, 2, body["total_hits"])
	assert.Equal(t, false, body["cached"])
	results := body["results"].([]any)
	require.Len(t, results, 2)
	titles := map[string]any{}
	for _, r := range results {
		m := r.(map[string]any)
		titles[m["doc_id"].(string)] = m["title"]
	}
	assert.Equal(t, "Quick Fox", titles["a"])
	assert.Nil(t, titles["b"])
}

func TestSearch_StopWordsOnlyReturnsEmpty(t *testing.T) {
	h := New(realSearcher(t), nil, nil, searchConfig(), nil)
	rec, body := do(t, h.Search, "/api/v1/search?q=the")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["results"])
}

func TestSearch_BadRequests(t *testing.T) {
	h := New(&fakeSearcher{}, nil, nil, searchConfig(), nil)
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=fox&limit=0",
		"/api/v1/search?q=fox&limit=abc",
		"/api/v1/search?q=fox&tie=-1",
		"/api/v1/search?q=fox&tie=NaN",
		"/api/v1/search?q=fox+tie:abc",
		"/api/v1/search?q=title:fox%5E0",
		"/api/v1/search?q=fox&sort=size",
		"/api/v1/search?q=fox+sort:size",
	} {
		rec, body := do(t, h.Search, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, body["error"], target)
	}
}

func TestSearch_TieAndLimitResolution(t *testing.T) {
	s := &fakeSearcher{}
	h := New(s, nil, nil, searchConfig(), nil)

	for _, target := range []string{
		"/api/v1/search?q=fox",
		"/api/v1/search?q=fox+tie:0.5&limit=50",
		"/api/v1/search?q=fox+tie:0.5&tie=0.7&limit=3",
	} {
		rec, _ := do(t, h.Search, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
	}
	assert.Equal(t, []float64{0.1, 0.5, 0.7}, s.ties)
	assert.Equal(t, []int{10, 20, 3}, s.limits)
}

func TestSearch_SortResolution(t *testing.T) {
	s := &fakeSearcher{}
	h := New(s, nil, nil, searchConfig(), nil)

	for _, target := range []string{
		"/api/v1/search?q=fox",
		"/api/v1/search?q=fox+sort:oldest",
		"/api/v1/search?q=fox+sort:oldest&sort=newest",
		"/api/v1/search?q=fox+sort:newest&sort=relevance",
	} {
		rec, _ := do(t, h.Search, target)
		require.Equal(t, http.StatusOK, rec.Code, target)
	}
	assert.Equal(t, []parser.SortOrder{parser.SortRelevance, parser.SortOldest, parser.SortNewest, parser.SortRelevance}, s.sorts)
}

func TestSearch_SortedEndToEnd(t *testing.T) {
	h := New(realSearcher(t), nil, nil, searchConfig(), nil)

	rec, body := do(t, h.Search, "/api/v1/search?q=fox&sort=newest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "newest", body["sort"])
	results := body["results"].([]any)
	require.Len(t, results, 2)
	for _, r := range results {
		keys := r.(map[string]any)["sort_keys"].([]any)
		assert.Len(t, keys, 1)
	}

	_, body = do(t, h.Search, "/api/v1/search?q=fox")
	assert.Nil(t, body["sort"])
	assert.Nil(t, body["results"].([]any)[0].(map[string]any)["sort_keys"])
}

func TestSearch_ErrorMapping(t *testing.T) {
	h := New(&fakeSearcher{err: fmt.Errorf("%w: all 2 shards failed", apperrors.ErrShardUnavailable)}, nil, nil, searchConfig(), nil)
	rec, body := do(t, h.Search, "/api/v1/search?q=fox")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.ErrShardUnavailable.Error(), body["error"])
}

func TestSearch_Overloaded(t *testing.T) {
	s := &fakeSearcher{block: make(chan struct{}), started: make(chan struct{}, 1)}
	cfg := searchConfig()
	cfg.MaxConcurrentQueries = 1
	h := New(s, nil, nil, cfg, nil)

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=fox", nil))
		done <- rec.Code
	}()
	<-s.started

	rec, _ := do(t, h.Search, "/api/v1/search?q=dog")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	close(s.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestExplain(t *testing.T) {
	h := New(realSearcher(t), nil, nil, searchConfig(), nil)

	rec, _ := do(t, h.Explain, "/api/v1/explain?q=fox")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h.Explain, "/api/v1/explain?q=fox&id=zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := do(t, h.Explain, "/api/v1/explain?q=fox&id=a&tie=0.3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a", body["doc_id"])
	assert.Equal(t, 0.3, body["tie_breaker"])
	assert.Equal(t, true, body["matched"])
	assert.Len(t, body["clauses"], 2)
	assert.NotEmpty(t, body["note"])
	assert.Greater(t, body["score"].(float64), 0.0)
}

func TestShardsAndCacheDisabled(t *testing.T) {
	h := New(realSearcher(t), nil, nil, searchConfig(), nil)

	rec, body := do(t, h.Shards, "/api/v1/shards")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["shards"], 2)

	rec, body = do(t, h.CacheStats, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", body["status"])

	rec, _ = do(t, h.CacheInvalidate, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
