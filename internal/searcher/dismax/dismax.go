// Package dismax implements the disjunction-max scorer: the union of the
// documents matched by a set of sub-scorers, in increasing ordinal order,
// where each document scores as the best sub-score plus a tie-breaker
// fraction of the remaining sub-scores that also matched it.
//
// Sub-scorers are kept in an array-backed binary min-heap keyed by their
// current document. Scoring walks the heap from the root and only descends
// below nodes positioned on the current document; by the heap property no
// descendant of a non-matching node can match.
//
// Sort keys are document-level, so after each move the merged scorer
// copies them from the root, which is always on the current document.
package dismax

import (
	"errors"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"
)

var (
	// ErrNotPositioned is returned by New when a sub-scorer has not been
	// advanced onto a real document.
	ErrNotPositioned = errors.New("sub-scorer must be positioned on a document")
	// ErrInvalidArgument is returned by New for a bad tie-breaker or count.
	ErrInvalidArgument = errors.New("invalid disjunction-max argument")
)

// Scorer merges sub-scorers. It is itself a scorer.Scorer so mergers nest.
// A Scorer owns the positions of its sub-scorers: nothing else may advance
// them while it is in use.
type Scorer struct {
	subs       []scorer.Scorer
	active     int
	tieBreaker float64
	doc        int
	sorts      []int
}

// New creates a disjunction-max scorer over subs[:active]. Every one of
// those sub-scorers must already be positioned on a real document. The
// slice is reordered in place and slots past the live count are cleared as
// sub-scorers exhaust.
func New(tieBreaker float64, subs []scorer.Scorer, active int) (*Scorer, error) {
	if math.IsNaN(tieBreaker) || math.IsInf(tieBreaker, 0) || tieBreaker < 0 {
		return nil, fmt.Errorf("%w: tie breaker %v", ErrInvalidArgument, tieBreaker)
	}
	if active < 0 || active > len(subs) {
		return nil, fmt.Errorf("%w: active count %d for %d sub-scorers", ErrInvalidArgument, active, len(subs))
	}
	for i := 0; i < active; i++ {
		if subs[i] == nil {
			return nil, fmt.Errorf("%w: sub-scorer %d is nil", ErrInvalidArgument, i)
		}
		if d := subs[i].DocID(); d == scorer.Unpositioned || d == scorer.NoMoreDocs {
			return nil, fmt.Errorf("%w: sub-scorer %d at doc %d", ErrNotPositioned, i, d)
		}
	}
	s := &Scorer{
		subs:       subs,
		active:     active,
		tieBreaker: tieBreaker,
		doc:        scorer.Unpositioned,
	}
	s.heapify()
	return s, nil
}

// DocID returns the current merged document.
func (s *Scorer) DocID() int {
	return s.doc
}

// Active returns the number of sub-scorers that still have documents.
func (s *Scorer) Active() int {
	return s.active
}

// TieBreaker returns the multiplier applied to non-maximum sub-scores.
func (s *Scorer) TieBreaker() float64 {
	return s.tieBreaker
}

// NextDoc moves every sub-scorer sitting on the current document forward
// and positions on the smallest document left.
func (s *Scorer) NextDoc() (int, error) {
	if s.active == 0 {
		return s.exhaust(), nil
	}
	for s.subs[0].DocID() == s.doc {
		next, err := s.subs[0].NextDoc()
		if err != nil {
			return s.doc, fmt.Errorf("advancing sub-scorer: %w", err)
		}
		if next != scorer.NoMoreDocs {
			s.siftDown(0)
			continue
		}
		s.removeRoot()
		if s.active == 0 {
			return s.exhaust(), nil
		}
	}
	return s.position(), nil
}

// Advance positions on the first merged document >= target. Sub-scorers
// already at or beyond target are not touched.
func (s *Scorer) Advance(target int) (int, error) {
	if s.active == 0 {
		return s.exhaust(), nil
	}
	for s.subs[0].DocID() < target {
		next, err := s.subs[0].Advance(target)
		if err != nil {
			return s.doc, fmt.Errorf("advancing sub-scorer to %d: %w", target, err)
		}
		if next != scorer.NoMoreDocs {
			s.siftDown(0)
			continue
		}
		s.removeRoot()
		if s.active == 0 {
			return s.exhaust(), nil
		}
	}
	return s.position(), nil
}

// position moves onto the root's document and copies its sort keys.
func (s *Scorer) position() int {
	root := s.subs[0]
	s.doc = root.DocID()
	s.sorts = append(s.sorts[:0], scorer.Sorts(root)...)
	return s.doc
}

func (s *Scorer) exhaust() int {
	s.doc = scorer.NoMoreDocs
	s.sorts = s.sorts[:0]
	return s.doc
}

// Sorts returns the sort keys of the current document as reported by the
// sub-scorer at the root, or nil when it reports none.
func (s *Scorer) Sorts() []int {
	if len(s.sorts) == 0 {
		return nil
	}
	return s.sorts
}

// Cost sums the match estimates of the live sub-scorers. Sub-scorers that
// cannot estimate are ignored.
func (s *Scorer) Cost() int64 {
	var total int64
	for _, sub := range s.subs[:s.active] {
		if c := scorer.Cost(sub); c > 0 {
			total += c
		}
	}
	return total
}

// Score returns max + (sum - max) * tieBreaker over the sub-scorers
// positioned on the current document.
func (s *Scorer) Score() (float64, error) {
	if s.doc == scorer.Unpositioned || s.doc == scorer.NoMoreDocs || s.active == 0 {
		return 0, scorer.ErrNotPositioned
	}
	sum, top, err := s.sumMax()
	if err != nil {
		return 0, err
	}
	return top + (sum-top)*s.tieBreaker, nil
}

// sumMax returns the sum and the maximum of the sub-scores on the current
// document. The root is always on it.
func (s *Scorer) sumMax() (sum, top float64, err error) {
	root, err := s.subs[0].Score()
	if err != nil {
		return 0, 0, fmt.Errorf("scoring sub-scorer: %w", err)
	}
	sum, top = root, root
	if err := s.scoreAll(1, &sum, &top); err != nil {
		return 0, 0, err
	}
	if err := s.scoreAll(2, &sum, &top); err != nil {
		return 0, 0, err
	}
	return sum, top, nil
}

// scoreAll adds the subtree at i to sum and top, stopping at the first node
// not on the current document.
func (s *Scorer) scoreAll(i int, sum, top *float64) error {
	if i >= s.active || s.subs[i].DocID() != s.doc {
		return nil
	}
	sub, err := s.subs[i].Score()
	if err != nil {
		return fmt.Errorf("scoring sub-scorer: %w", err)
	}
	*sum += sub
	if sub > *top {
		*top = sub
	}
	if err := s.scoreAll(2*i+1, sum, top); err != nil {
		return err
	}
	return s.scoreAll(2*i+2, sum, top)
}

// Explain is not supported for disjunction-max; callers explain the
// individual clauses instead.
func (s *Scorer) Explain(doc int) (*scorer.Explanation, error) {
	return nil, fmt.Errorf("disjunction-max over %d clauses: %w", s.active, scorer.ErrExplainUnsupported)
}

func (s *Scorer) heapify() {
	for i := s.active/2 - 1; i >= 0; i-- {
		s.siftDown(i)
	}
}

// siftDown restores the heap below i after the scorer at i moved forward.
func (s *Scorer) siftDown(i int) {
	node := s.subs[i]
	doc := node.DocID()
	for i <= s.active/2-1 {
		left := 2*i + 1
		leftDoc := s.subs[left].DocID()
		right := left + 1
		rightDoc := scorer.NoMoreDocs
		if right < s.active {
			rightDoc = s.subs[right].DocID()
		}
		child, childDoc := left, leftDoc
		if rightDoc < leftDoc {
			child, childDoc = right, rightDoc
		}
		if childDoc >= doc {
			return
		}
		s.subs[i] = s.subs[child]
		s.subs[child] = node
		i = child
	}
}

func (s *Scorer) removeRoot() {
	if s.active == 1 {
		s.subs[0] = nil
		s.active = 0
		return
	}
	last := s.active - 1
	s.subs[0] = s.subs[last]
	s.subs[last] = nil
	s.active--
	s.siftDown(0)
}
