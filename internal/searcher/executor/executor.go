// Package executor evaluates query plans against index shards. Each shard
// builds one BM25 term scorer per clause, merges them with a
// disjunction-max scorer behind a score cache, and collects the top hits;
// Sharded fans a query out to every shard and merges the results.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/dismax"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorecache"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"
	apperrors "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/errors"
)

// ctxCheckInterval is how many collected documents pass between context
// checks.
const ctxCheckInterval = 256

// Shard is the read side of one index shard. *indexer.Engine implements it.
type Shard interface {
	Search(field, term string) (index.PostingList, error)
	FieldStats(field string) index.FieldStats
	FieldLength(doc int, field string) int
	ExternalID(doc int) (string, bool)
	IndexedAt(doc int) int64
	Ordinal(docID string) (int, bool)
	LiveDocs() *roaring.Bitmap
	DocCount() int
	MaxDoc() int
	SegmentCount() int
}

// Result is one shard's answer to a query.
type Result struct {
	ShardID   int
	Hits      []merger.Hit
	TotalHits int
	MaxScore  float64
	// Clauses is the number of sub-scorers merged, after dropping clauses
	// with no postings.
	Clauses int
	// Estimated is the root scorer's match bound, or -1 when unknown.
	Estimated int64
}

// SortFieldFor maps a sort order to the collector sort field over the
// index time key, or nil for relevance order.
func SortFieldFor(order parser.SortOrder) *scorer.SortField {
	switch order {
	case parser.SortNewest:
		return &scorer.SortField{Key: 0, Descending: true}
	case parser.SortOldest:
		return &scorer.SortField{Key: 0}
	}
	return nil
}

// Executor runs queries against a single shard.
type Executor struct {
	shardID int
	shard   Shard
	logger  *slog.Logger
}

func New(shardID int, shard Shard) *Executor {
	return &Executor{
		shardID: shardID,
		shard:   shard,
		logger:  slog.Default().With("component", "query-executor", "shard_id", shardID),
	}
}

// Execute scores plan on the shard and returns its best limit hits.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, tieBreaker float64, limit int) (*Result, error) {
	result := &Result{ShardID: e.shardID}
	exclude, err := e.exclusions(plan)
	if err != nil {
		return nil, err
	}
	field := SortFieldFor(plan.Sort)
	var keys scorer.SortKeyFunc
	if field != nil {
		keys = e.sortKeys
	}
	root, clauses, err := e.rootScorer(plan, tieBreaker, keys)
	if err != nil {
		return nil, err
	}
	result.Clauses = clauses
	if root == nil {
		return result, nil
	}

	var top *scorer.TopKCollector
	if field != nil {
		top = scorer.NewSortedTopKCollector(limit, *field)
	} else {
		top = scorer.NewTopKCollector(limit)
	}
	result.Estimated = scorer.Cost(root)
	top.SizeHint(result.Estimated)
	total := &scorer.TotalHitsCollector{}
	best := &scorer.MaxScoreCollector{}
	var c scorer.Collector = scorer.MultiCollector{top, total, best}
	if exclude != nil {
		c = &scorer.FilterCollector{Exclude: exclude, Next: c}
	}
	c = &contextCollector{ctx: ctx, next: c}
	if err := scorer.ScoreAll(root, c); err != nil {
		return nil, fmt.Errorf("shard %d: %w", e.shardID, err)
	}

	for _, sd := range top.Results() {
		id, ok := e.shard.ExternalID(sd.Doc)
		if !ok {
			e.logger.Warn("hit without external id", "ordinal", sd.Doc)
			continue
		}
		result.Hits = append(result.Hits, merger.Hit{ShardID: e.shardID, Doc: sd.Doc, ID: id, Score: sd.Score, Sorts: sd.Sorts})
	}
	result.TotalHits = total.Total()
	result.MaxScore = best.MaxScore()
	e.logger.Debug("shard query executed",
		"query", plan.RawQuery,
		"clauses", clauses,
		"sort", string(plan.Sort),
		"estimated_matches", result.Estimated,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
	)
	return result, nil
}

// sortKeys reports the index time of doc as its only sort key.
func (e *Executor) sortKeys(doc int, dst []int) []int {
	return append(dst, int(e.shard.IndexedAt(doc)))
}

// rootScorer builds the scorer tree for plan. It returns nil when nothing
// can match. A plan with only exclusions matches every live document with
// score 1. A non-nil keys makes the leaves carry sort keys, which the
// merged scorer passes up.
func (e *Executor) rootScorer(plan *parser.QueryPlan, tieBreaker float64, keys scorer.SortKeyFunc) (scorer.Scorer, int, error) {
	if plan.Empty() {
		if len(plan.ExcludeTerms) == 0 {
			return nil, 0, nil
		}
		live := scorer.NewBitmapScorer(e.shard.LiveDocs(), 1)
		live.SetSortKeys(keys)
		return live, 0, nil
	}
	terms, err := e.termScorers(plan)
	if err != nil {
		return nil, 0, err
	}
	subs := make([]scorer.Scorer, 0, len(terms))
	for _, ts := range terms {
		ts.SetSortKeys(keys)
		doc, err := ts.NextDoc()
		if err != nil {
			return nil, 0, fmt.Errorf("positioning term scorer: %w", err)
		}
		if doc != scorer.NoMoreDocs {
			subs = append(subs, ts)
		}
	}
	if len(subs) == 0 {
		return nil, 0, nil
	}
	merged, err := dismax.New(tieBreaker, subs, len(subs))
	if err != nil {
		return nil, 0, fmt.Errorf("building disjunction-max scorer: %w", err)
	}
	return scorecache.Wrap(merged), len(subs), nil
}

// termScorers returns one unpositioned scorer per clause, in clause order.
func (e *Executor) termScorers(plan *parser.QueryPlan) ([]*ranker.TermScorer, error) {
	scorers := make([]*ranker.TermScorer, 0, len(plan.Clauses))
	for _, c := range plan.Clauses {
		postings, err := e.shard.Search(c.Field, c.Term)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", c, err)
		}
		field := c.Field
		lengths := func(doc int) int { return e.shard.FieldLength(doc, field) }
		scorers = append(scorers, ranker.NewTermScorer(c.Field, c.Term, postings, c.Boost, e.shard.FieldStats(c.Field), lengths))
	}
	return scorers, nil
}

// exclusions returns the ordinals matching any excluded term, or nil.
func (e *Executor) exclusions(plan *parser.QueryPlan) (*roaring.Bitmap, error) {
	if len(plan.ExcludeTerms) == 0 {
		return nil, nil
	}
	bm := roaring.New()
	for _, c := range plan.ExcludeTerms {
		postings, err := e.shard.Search(c.Field, c.Term)
		if err != nil {
			return nil, fmt.Errorf("searching excluded %s: %w", c, err)
		}
		for _, p := range postings {
			bm.Add(uint32(p.Doc))
		}
	}
	return bm, nil
}

// Explanation describes how one document scored on this shard.
type Explanation struct {
	ShardID  int
	Doc      int
	Score    float64
	Matched  bool
	Excluded bool
	Clauses  []*scorer.Explanation
	Combined *scorer.Explanation
	Note     string
}

// Explain scores docID against plan and explains each clause. The merged
// score is recomputed by advancing a fresh scorer tree to the document.
func (e *Executor) Explain(ctx context.Context, plan *parser.QueryPlan, tieBreaker float64, docID string) (*Explanation, error) {
	doc, ok := e.shard.Ordinal(docID)
	if !ok {
		return nil, fmt.Errorf("%w: %q on shard %d", apperrors.ErrDocumentNotFound, docID, e.shardID)
	}
	out := &Explanation{ShardID: e.shardID, Doc: doc}

	terms, err := e.termScorers(plan)
	if err != nil {
		return nil, err
	}
	for _, ts := range terms {
		exp, err := ts.Explain(doc)
		if err != nil {
			return nil, fmt.Errorf("explaining clause: %w", err)
		}
		out.Clauses = append(out.Clauses, exp)
	}

	exclude, err := e.exclusions(plan)
	if err != nil {
		return nil, err
	}
	out.Excluded = exclude != nil && exclude.Contains(uint32(doc))

	root, _, err := e.rootScorer(plan, tieBreaker, nil)
	if err != nil {
		return nil, err
	}
	if root == nil {
		out.Note = "no clause matches any document on this shard"
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := root.Advance(doc); err != nil {
		return nil, fmt.Errorf("advancing to doc %d: %w", doc, err)
	}
	if root.DocID() == doc {
		if out.Score, err = root.Score(); err != nil {
			return nil, fmt.Errorf("scoring doc %d: %w", doc, err)
		}
		out.Matched = !out.Excluded
	}
	combined, err := root.Explain(doc)
	switch {
	case errors.Is(err, scorer.ErrExplainUnsupported):
		out.Note = fmt.Sprintf("merged score is max + (sum - max) * %g over the matching clauses; the merged scorer does not explain itself", tieBreaker)
	case err != nil:
		return nil, fmt.Errorf("explaining doc %d: %w", doc, err)
	default:
		out.Combined = combined
	}
	return out, nil
}

// contextCollector aborts collection once ctx is done.
type contextCollector struct {
	ctx  context.Context
	next scorer.Collector
	n    int
}

func (c *contextCollector) SetScorer(s scorer.Scorer) {
	c.next.SetScorer(s)
}

func (c *contextCollector) Collect(doc int) error {
	if c.n%ctxCheckInterval == 0 {
		if err := c.ctx.Err(); err != nil {
			return err
		}
	}
	c.n++
	return c.next.Collect(doc)
}
