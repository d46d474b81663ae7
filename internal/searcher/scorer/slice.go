package scorer

import (
	"fmt"
	"sort"
)

// SliceScorer is an in-memory Scorer backed by parallel slices of sorted
// document ordinals and their scores.
type SliceScorer struct {
	docs   []int
	scores []float64
	keys   SortKeyFunc
	sorts  []int
	pos    int
	doc    int
}

// NewSliceScorer creates a SliceScorer. docs must be strictly increasing and
// scores, when non-nil, must have the same length. A nil scores slice scores
// every document 1.
func NewSliceScorer(docs []int, scores []float64) *SliceScorer {
	return &SliceScorer{
		docs:   docs,
		scores: scores,
		pos:    -1,
		doc:    Unpositioned,
	}
}

// SetSortKeys makes the scorer report fn's keys for its current document.
func (s *SliceScorer) SetSortKeys(fn SortKeyFunc) {
	s.keys = fn
}

// Sorts returns the sort keys of the current document, or nil when no key
// function is set or the scorer is not positioned.
func (s *SliceScorer) Sorts() []int {
	if s.keys == nil || s.doc == Unpositioned || s.doc == NoMoreDocs {
		return nil
	}
	s.sorts = s.keys(s.doc, s.sorts[:0])
	return s.sorts
}

func (s *SliceScorer) DocID() int {
	return s.doc
}

func (s *SliceScorer) NextDoc() (int, error) {
	if s.doc == NoMoreDocs {
		return NoMoreDocs, nil
	}
	s.pos++
	return s.settle(), nil
}

func (s *SliceScorer) Advance(target int) (int, error) {
	if s.doc == NoMoreDocs {
		return NoMoreDocs, nil
	}
	if s.doc != Unpositioned && s.doc >= target {
		return s.doc, nil
	}
	start := s.pos + 1
	rest := s.docs[start:]
	s.pos = start + sort.SearchInts(rest, target)
	return s.settle(), nil
}

func (s *SliceScorer) settle() int {
	if s.pos >= len(s.docs) {
		s.pos = len(s.docs)
		s.doc = NoMoreDocs
	} else {
		s.doc = s.docs[s.pos]
	}
	return s.doc
}

func (s *SliceScorer) Score() (float64, error) {
	if s.doc == Unpositioned || s.doc == NoMoreDocs {
		return 0, ErrNotPositioned
	}
	if s.scores == nil {
		return 1, nil
	}
	return s.scores[s.pos], nil
}

func (s *SliceScorer) Explain(doc int) (*Explanation, error) {
	i := sort.SearchInts(s.docs, doc)
	if i >= len(s.docs) || s.docs[i] != doc {
		return NoMatch(doc), nil
	}
	v := 1.0
	if s.scores != nil {
		v = s.scores[i]
	}
	return &Explanation{Value: v, Description: fmt.Sprintf("fixed score for doc %d", doc)}, nil
}

// Cost returns the number of documents not yet visited.
func (s *SliceScorer) Cost() int64 {
	remaining := len(s.docs) - s.pos - 1
	if remaining < 0 {
		return 0
	}
	return int64(remaining)
}
