// Package scorer defines the document-at-a-time scoring contract shared by
// every query evaluation node: term scorers, disjunction-max mergers, score
// caches and filters. A Scorer walks a strictly increasing sequence of
// per-shard document ordinals and reports a relevance score for the
// document it is positioned on.
package scorer

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// Unpositioned is the DocID of a scorer that has not been advanced yet.
	Unpositioned = -1
	// NoMoreDocs is the terminal sentinel. It compares greater than every
	// real document ordinal and, once reached, never changes.
	NoMoreDocs = math.MaxInt32
)

var (
	// ErrExplainUnsupported is returned by scorers that cannot attribute
	// their score to sub-components.
	ErrExplainUnsupported = errors.New("score explanation not supported")
	// ErrNotPositioned is returned when a score is requested before the
	// first advance or after exhaustion.
	ErrNotPositioned = errors.New("scorer not positioned on a document")
)

// Scorer iterates document ordinals in increasing order and scores the
// current one.
//
// DocID returns Unpositioned before the first call to NextDoc or Advance,
// the current ordinal while positioned, and NoMoreDocs once exhausted.
// NextDoc and Advance return the new DocID. Advance(target) positions on
// the first ordinal >= target; implementations are expected to skip faster
// than repeated NextDoc calls. Errors returned by NextDoc, Advance and Score
// come from the underlying postings source and leave the scorer in an
// unspecified state.
type Scorer interface {
	DocID() int
	NextDoc() (int, error)
	Advance(target int) (int, error)
	Score() (float64, error)
	Explain(doc int) (*Explanation, error)
}

// Sorter is implemented by scorers that carry sort keys for their current
// document, one value per sort field. The returned slice belongs to the
// scorer and is only valid until it moves.
type Sorter interface {
	Sorts() []int
}

// SortKeyFunc appends the sort keys of doc to dst and returns the result.
type SortKeyFunc func(doc int, dst []int) []int

// Sorts returns the sort keys of s's current document, or nil when s
// carries none.
func Sorts(s Scorer) []int {
	if so, ok := s.(Sorter); ok {
		return so.Sorts()
	}
	return nil
}

// Coster is implemented by scorers that can bound how many documents they
// will match.
type Coster interface {
	Cost() int64
}

// Cost returns s's match estimate, or -1 when s cannot tell.
func Cost(s Scorer) int64 {
	if c, ok := s.(Coster); ok {
		return c.Cost()
	}
	return -1
}

// Explanation is a tree describing how a score was computed.
type Explanation struct {
	Value       float64        `json:"value"`
	Description string         `json:"description"`
	Details     []*Explanation `json:"details,omitempty"`
}

// NoMatch returns an explanation for a document the scorer does not match.
func NoMatch(doc int) *Explanation {
	return &Explanation{Description: fmt.Sprintf("no matching term for doc %d", doc)}
}

// IsMatch reports whether the explanation carries a positive score.
func (e *Explanation) IsMatch() bool {
	return e != nil && e.Value > 0
}

// String renders the explanation as an indented tree.
func (e *Explanation) String() string {
	var b strings.Builder
	e.write(&b, 0)
	return b.String()
}

func (e *Explanation) write(b *strings.Builder, depth int) {
	if e == nil {
		return
	}
	fmt.Fprintf(b, "%s%g = %s\n", strings.Repeat("  ", depth), e.Value, e.Description)
	for _, d := range e.Details {
		d.write(b, depth+1)
	}
}
