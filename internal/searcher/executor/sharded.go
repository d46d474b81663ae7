package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
)

// Sharded runs a query on every shard concurrently and merges the per-shard
// top hits. Each shard scores with its own term statistics.
type Sharded struct {
	executors []*Executor
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSharded creates a fan-out executor. Shard i gets shard id i. A zero
// timeout disables the per-shard deadline; m may be nil.
func NewSharded(shards []Shard, timeout time.Duration, m *metrics.Metrics) *Sharded {
	executors := make([]*Executor, len(shards))
	for i, s := range shards {
		executors[i] = New(i, s)
	}
	return &Sharded{
		executors: executors,
		timeout:   timeout,
		metrics:   m,
		logger:    slog.Default().With("component", "sharded-executor"),
	}
}

// Execute searches every shard. Shards that fail or time out are logged and
// left out; an error is returned only when no shard answered or ctx ended.
func (s *Sharded) Execute(ctx context.Context, plan *parser.QueryPlan, tieBreaker float64, limit int) (*proto.SearchResponse, error) {
	resp := &proto.SearchResponse{
		Query:      plan.RawQuery,
		TieBreaker: tieBreaker,
		Sort:       string(plan.Sort),
		Results:    []proto.SearchResult{},
	}
	if plan.Empty() && len(plan.ExcludeTerms) == 0 {
		return resp, nil
	}

	results := make([]*Result, len(s.executors))
	errs := make([]error, len(s.executors))
	// Shard failures are recorded in errs so one bad shard does not cancel
	// the others. Every goroutine returns nil and Wait cannot fail.
	var g errgroup.Group
	for i, ex := range s.executors {
		g.Go(func() error {
			shardCtx, cancel := s.shardContext(ctx)
			defer cancel()
			start := time.Now()
			res, err := ex.Execute(shardCtx, plan, tieBreaker, limit)
			s.observe(i, time.Since(start), err)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}

	shardHits := make([][]merger.Hit, 0, len(results))
	clauses := 0
	for i, res := range results {
		if res == nil {
			resp.ShardsFailed++
			s.logger.Error("shard query failed", "shard_id", i, "query", plan.RawQuery, "error", errs[i])
			continue
		}
		shardHits = append(shardHits, res.Hits)
		resp.TotalHits += res.TotalHits
		if res.MaxScore > resp.MaxScore {
			resp.MaxScore = res.MaxScore
		}
		clauses = max(clauses, res.Clauses)
	}
	if len(s.executors) > 0 && resp.ShardsFailed == len(s.executors) {
		return nil, fmt.Errorf("%w: all %d shards failed: %w", apperrors.ErrShardUnavailable, len(s.executors), errors.Join(errs...))
	}

	for _, h := range merger.MergeSorted(shardHits, limit, SortFieldFor(plan.Sort)) {
		resp.Results = append(resp.Results, proto.SearchResult{DocID: h.ID, ShardID: h.ShardID, Score: h.Score, SortKeys: h.Sorts})
	}
	if s.metrics != nil {
		s.metrics.SearchClauses.Observe(float64(clauses))
	}
	s.logger.Info("sharded query executed",
		"query", plan.RawQuery,
		"shards_queried", len(s.executors),
		"shards_failed", resp.ShardsFailed,
		"total_hits", resp.TotalHits,
		"results", len(resp.Results),
	)
	return resp, nil
}

// Explain explains docID on the shard that holds it.
func (s *Sharded) Explain(ctx context.Context, plan *parser.QueryPlan, tieBreaker float64, docID string) (*proto.ExplainResponse, error) {
	for _, ex := range s.executors {
		if _, ok := ex.shard.Ordinal(docID); !ok {
			continue
		}
		exp, err := ex.Explain(ctx, plan, tieBreaker, docID)
		if err != nil {
			return nil, err
		}
		return &proto.ExplainResponse{
			Query:      plan.RawQuery,
			DocID:      docID,
			ShardID:    exp.ShardID,
			TieBreaker: tieBreaker,
			Score:      exp.Score,
			Matched:    exp.Matched,
			Excluded:   exp.Excluded,
			Clauses:    exp.Clauses,
			Combined:   exp.Combined,
			Note:       exp.Note,
		}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %q is not indexed", docID)
}

// Stats reports the size of every shard.
func (s *Sharded) Stats() []proto.ShardStat {
	stats := make([]proto.ShardStat, len(s.executors))
	for i, ex := range s.executors {
		stats[i] = proto.ShardStat{
			ShardID:      i,
			DocCount:     ex.shard.DocCount(),
			MaxDoc:       ex.shard.MaxDoc(),
			SegmentCount: ex.shard.SegmentCount(),
		}
		if s.metrics != nil {
			s.metrics.ShardDocCount.WithLabelValues(strconv.Itoa(i)).Set(float64(stats[i].DocCount))
		}
	}
	return stats
}

// NumShards returns the number of shards queried.
func (s *Sharded) NumShards() int {
	return len(s.executors)
}

func (s *Sharded) shardContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Sharded) observe(shardID int, elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	label := strconv.Itoa(shardID)
	s.metrics.ShardLatency.WithLabelValues(label).Observe(elapsed.Seconds())
	if err != nil {
		s.metrics.ShardErrorsTotal.WithLabelValues(label).Inc()
	}
}
