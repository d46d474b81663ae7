package scorer

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Collector receives every document a Scorer matches. SetScorer is called
// once before the first Collect; collectors that need the score call
// Score on the scorer they were given, possibly more than once per doc.
type Collector interface {
	SetScorer(s Scorer)
	Collect(doc int) error
}

// ScoreAll drives s to exhaustion and feeds every matching document to c.
// An unpositioned scorer is advanced first; a positioned one has its
// current document collected before moving on.
func ScoreAll(s Scorer, c Collector) error {
	c.SetScorer(s)
	doc := s.DocID()
	var err error
	if doc == Unpositioned {
		if doc, err = s.NextDoc(); err != nil {
			return fmt.Errorf("advancing scorer: %w", err)
		}
	}
	for doc != NoMoreDocs {
		if err := c.Collect(doc); err != nil {
			return fmt.Errorf("collecting doc %d: %w", doc, err)
		}
		if doc, err = s.NextDoc(); err != nil {
			return fmt.Errorf("advancing scorer: %w", err)
		}
	}
	return nil
}

// ScoreDoc is a document ordinal with its score and, for sorted
// collection, its sort keys.
type ScoreDoc struct {
	Doc   int     `json:"doc"`
	Score float64 `json:"score"`
	Sorts []int   `json:"sorts,omitempty"`
}

// ErrNoSortKeys is returned by a sorted collector when the scorer has no
// value for the requested sort field.
var ErrNoSortKeys = errors.New("scorer carries no sort keys")

// SortField selects one of the scorer's sort keys. Ties on the key fall
// back to relevance.
type SortField struct {
	Key        int
	Descending bool
}

// Less reports whether a ranks ahead of b on this field. Equal keys
// report false both ways.
func (f SortField) Less(a, b []int) bool {
	if f.Descending {
		return a[f.Key] > b[f.Key]
	}
	return a[f.Key] < b[f.Key]
}

// TopKCollector keeps the K best documents. By default documents rank by
// descending score; on equal scores the lower ordinal wins, matching
// collection order.
type TopKCollector struct {
	k      int
	h      scoreDocHeap
	field  *SortField
	scorer Scorer
}

// NewTopKCollector creates a collector for the top k documents by score.
func NewTopKCollector(k int) *TopKCollector {
	if k <= 0 {
		k = 10
	}
	c := &TopKCollector{k: k}
	c.h = scoreDocHeap{docs: make([]ScoreDoc, 0, k), weaker: byScore}
	return c
}

// NewSortedTopKCollector creates a collector for the first k documents
// ordered by the given sort key, then by score.
func NewSortedTopKCollector(k int, f SortField) *TopKCollector {
	c := NewTopKCollector(k)
	c.field = &f
	c.h.weaker = func(a, b ScoreDoc) bool {
		if f.Less(b.Sorts, a.Sorts) {
			return true
		}
		if f.Less(a.Sorts, b.Sorts) {
			return false
		}
		return byScore(a, b)
	}
	return c
}

// SizeHint shrinks the initial allocation when the scorer is known to
// match fewer than k documents. Negative estimates are ignored.
func (c *TopKCollector) SizeHint(n int64) {
	if n < 0 || c.h.Len() > 0 || n >= int64(cap(c.h.docs)) {
		return
	}
	c.h.docs = make([]ScoreDoc, 0, n)
}

func (c *TopKCollector) SetScorer(s Scorer) {
	c.scorer = s
}

func (c *TopKCollector) Collect(doc int) error {
	score, err := c.scorer.Score()
	if err != nil {
		return err
	}
	sd := ScoreDoc{Doc: doc, Score: score}
	if c.field != nil {
		keys := Sorts(c.scorer)
		if len(keys) <= c.field.Key {
			return fmt.Errorf("doc %d sort key %d: %w", doc, c.field.Key, ErrNoSortKeys)
		}
		sd.Sorts = keys
	}
	if c.h.Len() < c.k {
		sd.Sorts = cloneKeys(sd.Sorts)
		heap.Push(&c.h, sd)
		return nil
	}
	if c.h.weaker(c.h.docs[0], sd) {
		sd.Sorts = cloneKeys(sd.Sorts)
		c.h.docs[0] = sd
		heap.Fix(&c.h, 0)
	}
	return nil
}

// Len returns the number of documents currently held.
func (c *TopKCollector) Len() int {
	return c.h.Len()
}

// Results drains the collector and returns documents best first.
func (c *TopKCollector) Results() []ScoreDoc {
	result := make([]ScoreDoc, c.h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&c.h).(ScoreDoc)
	}
	return result
}

// Scorer-owned key slices are reused on every move.
func cloneKeys(keys []int) []int {
	if keys == nil {
		return nil
	}
	return append([]int(nil), keys...)
}

func byScore(a, b ScoreDoc) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Doc > b.Doc
}

// scoreDocHeap is a min-heap with the weakest hit on top.
type scoreDocHeap struct {
	docs   []ScoreDoc
	weaker func(a, b ScoreDoc) bool
}

func (h scoreDocHeap) Len() int           { return len(h.docs) }
func (h scoreDocHeap) Less(i, j int) bool { return h.weaker(h.docs[i], h.docs[j]) }
func (h scoreDocHeap) Swap(i, j int)      { h.docs[i], h.docs[j] = h.docs[j], h.docs[i] }
func (h *scoreDocHeap) Push(x any)        { h.docs = append(h.docs, x.(ScoreDoc)) }
func (h *scoreDocHeap) Pop() any {
	old := h.docs
	n := len(old)
	x := old[n-1]
	h.docs = old[:n-1]
	return x
}

// TotalHitsCollector counts matching documents without scoring them.
type TotalHitsCollector struct {
	total int
}

func (c *TotalHitsCollector) SetScorer(Scorer) {}

func (c *TotalHitsCollector) Collect(int) error {
	c.total++
	return nil
}

// Total returns the number of collected documents.
func (c *TotalHitsCollector) Total() int {
	return c.total
}

// MaxScoreCollector tracks the highest score seen.
type MaxScoreCollector struct {
	scorer Scorer
	max    float64
	seen   bool
}

func (c *MaxScoreCollector) SetScorer(s Scorer) {
	c.scorer = s
}

func (c *MaxScoreCollector) Collect(int) error {
	score, err := c.scorer.Score()
	if err != nil {
		return err
	}
	if !c.seen || score > c.max {
		c.max = score
		c.seen = true
	}
	return nil
}

// MaxScore returns the highest score collected, or 0 if nothing matched.
func (c *MaxScoreCollector) MaxScore() float64 {
	return c.max
}

// MultiCollector forwards each document to several collectors in order.
type MultiCollector []Collector

func (m MultiCollector) SetScorer(s Scorer) {
	for _, c := range m {
		c.SetScorer(s)
	}
}

func (m MultiCollector) Collect(doc int) error {
	for _, c := range m {
		if err := c.Collect(doc); err != nil {
			return err
		}
	}
	return nil
}

// FilterCollector drops documents contained in Exclude before they reach
// Next. A nil Exclude lets everything through.
type FilterCollector struct {
	Exclude *roaring.Bitmap
	Next    Collector
}

func (f *FilterCollector) SetScorer(s Scorer) {
	f.Next.SetScorer(s)
}

func (f *FilterCollector) Collect(doc int) error {
	if f.Exclude != nil && f.Exclude.Contains(uint32(doc)) {
		return nil
	}
	return f.Next.Collect(doc)
}
