// Package merger combines per-shard top-K lists into one global top-K.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"
)

// Hit is one scored document from one shard.
type Hit struct {
	ShardID int
	Doc     int
	ID      string
	Score   float64
	Sorts   []int
}

// better orders hits by descending score, then ascending id, then shard and
// ordinal so the order is total.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if a.ShardID != b.ShardID {
		return a.ShardID < b.ShardID
	}
	return a.Doc < b.Doc
}

// Merge returns the best limit hits across all shard lists, best first.
func Merge(shardHits [][]Hit, limit int) []Hit {
	return MergeSorted(shardHits, limit, nil)
}

// MergeSorted is Merge for hits collected in sort key order. A nil field
// orders by score. Hits lacking the key rank after those that have it.
func MergeSorted(shardHits [][]Hit, limit int, field *scorer.SortField) []Hit {
	if limit <= 0 {
		limit = 10
	}
	h := &hitHeap{better: better}
	if field != nil {
		f := *field
		h.better = func(a, b Hit) bool {
			aok, bok := len(a.Sorts) > f.Key, len(b.Sorts) > f.Key
			switch {
			case aok && !bok:
				return true
			case !aok && bok:
				return false
			case aok && bok:
				if f.Less(a.Sorts, b.Sorts) {
					return true
				}
				if f.Less(b.Sorts, a.Sorts) {
					return false
				}
			}
			return better(a, b)
		}
	}
	for _, hits := range shardHits {
		for _, hit := range hits {
			if h.Len() < limit {
				heap.Push(h, hit)
				continue
			}
			if h.better(hit, h.hits[0]) {
				h.hits[0] = hit
				heap.Fix(h, 0)
			}
		}
	}
	result := make([]Hit, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Hit)
	}
	return result
}

// hitHeap keeps the weakest hit at the root.
type hitHeap struct {
	hits   []Hit
	better func(a, b Hit) bool
}

func (h hitHeap) Len() int { return len(h.hits) }

func (h hitHeap) Less(i, j int) bool { return h.better(h.hits[j], h.hits[i]) }

func (h hitHeap) Swap(i, j int) { h.hits[i], h.hits[j] = h.hits[j], h.hits[i] }

func (h *hitHeap) Push(x any) {
	h.hits = append(h.hits, x.(Hit))
}

func (h *hitHeap) Pop() any {
	old := h.hits
	n := len(old)
	item := old[n-1]
	h.hits = old[:n-1]
	return item
}
