// Package scorecache wraps a scorer.Scorer so that the score of the current
// document is computed at most once, however many collectors ask for it.
// The document's sort keys are captured with the score.
package scorecache

import "github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"

// Scorer memoizes the wrapped scorer's score for its current document.
// Navigation and Explain are forwarded unchanged.
type Scorer struct {
	in       scorer.Scorer
	curDoc   int
	curScore float64
	curSorts []int
}

// Wrap returns a caching scorer that takes exclusive ownership of s.
func Wrap(s scorer.Scorer) *Scorer {
	return &Scorer{in: s, curDoc: scorer.Unpositioned}
}

// Unwrap returns the wrapped scorer.
func (c *Scorer) Unwrap() scorer.Scorer {
	return c.in
}

func (c *Scorer) DocID() int {
	return c.in.DocID()
}

func (c *Scorer) NextDoc() (int, error) {
	return c.in.NextDoc()
}

func (c *Scorer) Advance(target int) (int, error) {
	return c.in.Advance(target)
}

// Score returns the cached score when the wrapped scorer has not moved
// since the last call. Failed computations are not cached.
func (c *Scorer) Score() (float64, error) {
	doc := c.in.DocID()
	if doc != c.curDoc || doc == scorer.Unpositioned {
		score, err := c.in.Score()
		if err != nil {
			return 0, err
		}
		c.curScore = score
		c.curDoc = doc
		c.curSorts = append(c.curSorts[:0], scorer.Sorts(c.in)...)
	}
	return c.curScore, nil
}

// Sorts returns the keys captured with the cached score. Before the
// current document has been scored it reads them from the wrapped scorer.
func (c *Scorer) Sorts() []int {
	if doc := c.in.DocID(); doc == c.curDoc && doc != scorer.Unpositioned {
		if len(c.curSorts) == 0 {
			return nil
		}
		return c.curSorts
	}
	return scorer.Sorts(c.in)
}

// Cost forwards the wrapped scorer's match estimate, or -1.
func (c *Scorer) Cost() int64 {
	return scorer.Cost(c.in)
}

func (c *Scorer) Explain(doc int) (*scorer.Explanation, error) {
	return c.in.Explain(doc)
}
