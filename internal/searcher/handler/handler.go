// Package handler exposes the searcher over HTTP: search, per-document
// score explanation, shard statistics and cache administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
)

// Searcher runs parsed queries. *executor.Sharded implements it.
type Searcher interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, tieBreaker float64, limit int) (*proto.SearchResponse, error)
	Explain(ctx context.Context, plan *parser.QueryPlan, tieBreaker float64, docID string) (*proto.ExplainResponse, error)
	Stats() []proto.ShardStat
}

// TitleStore looks up document titles. *docstore.Store implements it.
type TitleStore interface {
	Titles(ctx context.Context, ids []string) (map[string]string, error)
}

type Handler struct {
	searcher     Searcher
	cache        *cache.QueryCache
	titles       TitleStore
	fields       []config.FieldConfig
	tieBreaker   float64
	defaultLimit int
	maxResults   int
	sem          *semaphore.Weighted
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates a Handler. queryCache, titles and m may be nil.
func New(searcher Searcher, queryCache *cache.QueryCache, titles TitleStore, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	maxConcurrent := int64(cfg.MaxConcurrentQueries)
	if maxConcurrent <= 0 {
		maxConcurrent = math.MaxInt32
	}
	return &Handler{
		searcher:     searcher,
		cache:        queryCache,
		titles:       titles,
		fields:       cfg.Fields,
		tieBreaker:   cfg.TieBreaker,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		sem:          semaphore.NewWeighted(maxConcurrent),
		metrics:      m,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Search handles GET /api/v1/search?q=&limit=&tie=&sort=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	plan, tie, err := h.parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := h.parseLimit(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if !h.sem.TryAcquire(1) {
		h.fail(w, r, apperrors.Newf(apperrors.ErrOverloaded, http.StatusTooManyRequests, "too many concurrent queries, retry later"))
		return
	}
	defer h.sem.Release(1)

	compute := func() (*proto.SearchResponse, error) {
		resp, err := h.searcher.Execute(ctx, plan, tie, limit)
		if err != nil {
			return nil, err
		}
		h.hydrate(ctx, resp)
		return resp, nil
	}

	var resp *proto.SearchResponse
	cacheStatus := "disabled"
	if h.cache != nil {
		var hit bool
		resp, hit, err = h.cache.GetOrCompute(ctx, plan, tie, limit, compute)
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		resp, err = compute()
	}
	if err != nil {
		log.Error("search execution failed", "query", plan.RawQuery, "error", err)
		h.countQuery("error")
		h.fail(w, r, err)
		return
	}

	elapsed := time.Since(start)
	resp.LatencyMs = elapsed.Milliseconds()
	resp.Cached = cacheStatus == "hit"
	h.observe(resp, cacheStatus, elapsed)

	log.Info("search completed",
		"query", plan.RawQuery,
		"tie_breaker", tie,
		"sort", string(plan.Sort),
		"total_hits", resp.TotalHits,
		"returned", len(resp.Results),
		"cache", cacheStatus,
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Explain handles GET /api/v1/explain?q=&id=&tie=.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("id")
	if docID == "" {
		h.fail(w, r, apperrors.Invalid("query parameter 'id' is required"))
		return
	}
	plan, tie, err := h.parseQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.searcher.Explain(r.Context(), plan, tie, docID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Shards handles GET /api/v1/shards.
func (h *Handler) Shards(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"shards": h.searcher.Stats()})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.cache.Stats(r.Context()))
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// parseQuery parses q and resolves the tie-breaker: the tie parameter
// wins over a tie: token in the query, which wins over the default. The
// sort parameter likewise overrides a sort: token.
func (h *Handler) parseQuery(r *http.Request) (*parser.QueryPlan, float64, error) {
	q := r.URL.Query().Get("q")
	if q == "" {
		return nil, 0, apperrors.Invalid("query parameter 'q' is required")
	}
	plan, err := parser.Parse(q, h.fields)
	if err != nil {
		if errors.Is(err, parser.ErrInvalidQuery) {
			return nil, 0, apperrors.Invalid("%s", err.Error())
		}
		return nil, 0, err
	}
	tie := h.tieBreaker
	if plan.TieBreaker != nil {
		tie = *plan.TieBreaker
	}
	if s := r.URL.Query().Get("tie"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, 0, apperrors.Invalid("tie must be a non-negative number")
		}
		tie = v
	}
	if s := r.URL.Query().Get("sort"); s != "" {
		order, err := parser.ParseSort(s)
		if err != nil {
			return nil, 0, apperrors.Invalid("sort must be newest, oldest or relevance")
		}
		plan.Sort = order
	}
	return plan, tie, nil
}

func (h *Handler) parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return h.defaultLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 1 {
		return 0, apperrors.Invalid("limit must be a positive integer")
	}
	return min(limit, h.maxResults), nil
}

// hydrate fills in result titles. Lookup failures leave titles empty.
func (h *Handler) hydrate(ctx context.Context, resp *proto.SearchResponse) {
	if h.titles == nil || len(resp.Results) == 0 {
		return
	}
	ids := make([]string, len(resp.Results))
	for i, res := range resp.Results {
		ids[i] = res.DocID
	}
	titles, err := h.titles.Titles(ctx, ids)
	if err != nil {
		logger.FromContext(ctx).Warn("title lookup failed", "error", err)
		return
	}
	for i := range resp.Results {
		resp.Results[i].Title = titles[resp.Results[i].DocID]
	}
}

func (h *Handler) observe(resp *proto.SearchResponse, cacheStatus string, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(resp.TotalHits))
	switch {
	case resp.TotalHits == 0:
		h.countQuery("zero_result")
	case cacheStatus == "hit":
		h.countQuery("hit")
	default:
		h.countQuery("miss")
	}
}

func (h *Handler) countQuery(resultType string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
