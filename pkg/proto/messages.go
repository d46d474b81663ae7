// Package proto defines the JSON messages exchanged between services: the
// Kafka events that move documents from ingestion to the indexer and
// announce new segments to searchers, and the search API payloads.
package proto

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"
)

// ---------- Kafka events ----------

// IngestEvent carries one document to the indexer. Fields, when present,
// is indexed as-is; otherwise Title and Body become the "title" and "body"
// fields.
type IngestEvent struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Fields     map[string]string `json:"fields,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// IndexFields returns the field map the document should be indexed with.
func (e IngestEvent) IndexFields() map[string]string {
	if len(e.Fields) > 0 {
		return e.Fields
	}
	fields := make(map[string]string, 2)
	if e.Title != "" {
		fields["title"] = e.Title
	}
	if e.Body != "" {
		fields["body"] = e.Body
	}
	return fields
}

// IndexCompleteEvent is published by the indexer after a shard flushes a
// segment. Searchers react by reloading segments and invalidating cached
// results.
type IndexCompleteEvent struct {
	ShardID   int       `json:"shard_id"`
	Segment   string    `json:"segment"`
	DocCount  int       `json:"doc_count"`
	FlushedAt time.Time `json:"flushed_at"`
}

// ---------- Search API ----------

// SearchResponse is returned by GET /api/v1/search.
type SearchResponse struct {
	Query      string         `json:"query"`
	TieBreaker float64        `json:"tie_breaker"`
	Sort       string         `json:"sort,omitempty"`
	TotalHits  int            `json:"total_hits"`
	MaxScore   float64        `json:"max_score"`
	Results    []SearchResult `json:"results"`
	LatencyMs  int64          `json:"latency_ms"`
	Cached     bool           `json:"cached"`

	// ShardsFailed counts shards that errored or timed out; their
	// documents are missing from Results.
	ShardsFailed int `json:"shards_failed,omitempty"`
}

// SearchResult is a single scored document in the result set.
type SearchResult struct {
	DocID   string  `json:"doc_id"`
	ShardID int     `json:"shard_id"`
	Score   float64 `json:"score"`
	Title   string  `json:"title,omitempty"`
	// SortKeys holds the document's index time in unix milliseconds when
	// the query was sorted by it.
	SortKeys []int `json:"sort_keys,omitempty"`
}

// ExplainResponse is returned by GET /api/v1/explain. Clauses holds one
// explanation per query clause; Combined is set only when the merged
// scorer can explain itself.
type ExplainResponse struct {
	Query      string                `json:"query"`
	DocID      string                `json:"doc_id"`
	ShardID    int                   `json:"shard_id"`
	TieBreaker float64               `json:"tie_breaker"`
	Score      float64               `json:"score"`
	Matched    bool                  `json:"matched"`
	Excluded   bool                  `json:"excluded,omitempty"`
	Clauses    []*scorer.Explanation `json:"clauses"`
	Combined   *scorer.Explanation   `json:"combined,omitempty"`
	Note       string                `json:"note,omitempty"`
}

// ShardStat holds per-shard statistics.
type ShardStat struct {
	ShardID      int `json:"shard_id"`
	DocCount     int `json:"doc_count"`
	MaxDoc       int `json:"max_doc"`
	SegmentCount int `json:"segment_count"`
}
