package scorer

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// BitmapScorer walks the members of a roaring bitmap and gives every one
// of them the same score. It backs filter clauses and match-all queries
// over the live documents of a shard.
type BitmapScorer struct {
	bm    *roaring.Bitmap
	it    roaring.IntPeekable
	score float64
	keys  SortKeyFunc
	sorts []int
	doc   int
}

// NewBitmapScorer creates a scorer over bm. The bitmap must not be mutated
// while the scorer is in use.
func NewBitmapScorer(bm *roaring.Bitmap, score float64) *BitmapScorer {
	return &BitmapScorer{
		bm:    bm,
		it:    bm.Iterator(),
		score: score,
		doc:   Unpositioned,
	}
}

// SetSortKeys makes the scorer report fn's keys for its current document.
func (b *BitmapScorer) SetSortKeys(fn SortKeyFunc) {
	b.keys = fn
}

// Sorts returns the sort keys of the current document, or nil.
func (b *BitmapScorer) Sorts() []int {
	if b.keys == nil || b.doc == Unpositioned || b.doc == NoMoreDocs {
		return nil
	}
	b.sorts = b.keys(b.doc, b.sorts[:0])
	return b.sorts
}

// Cost returns the number of documents in the bitmap.
func (b *BitmapScorer) Cost() int64 {
	return int64(b.bm.GetCardinality())
}

func (b *BitmapScorer) DocID() int {
	return b.doc
}

func (b *BitmapScorer) NextDoc() (int, error) {
	if b.doc == NoMoreDocs {
		return NoMoreDocs, nil
	}
	if !b.it.HasNext() {
		b.doc = NoMoreDocs
		return b.doc, nil
	}
	// Members at or above NoMoreDocs are not valid ordinals.
	if next := int64(b.it.Next()); next < NoMoreDocs {
		b.doc = int(next)
	} else {
		b.doc = NoMoreDocs
	}
	return b.doc, nil
}

func (b *BitmapScorer) Advance(target int) (int, error) {
	if b.doc == NoMoreDocs {
		return NoMoreDocs, nil
	}
	if b.doc != Unpositioned && b.doc >= target {
		return b.doc, nil
	}
	if target >= NoMoreDocs {
		b.doc = NoMoreDocs
		return b.doc, nil
	}
	if target < 0 {
		target = 0
	}
	b.it.AdvanceIfNeeded(uint32(target))
	return b.NextDoc()
}

func (b *BitmapScorer) Score() (float64, error) {
	if b.doc == Unpositioned || b.doc == NoMoreDocs {
		return 0, ErrNotPositioned
	}
	return b.score, nil
}

func (b *BitmapScorer) Explain(doc int) (*Explanation, error) {
	if doc < 0 || doc >= NoMoreDocs || !b.bm.Contains(uint32(doc)) {
		return NoMatch(doc), nil
	}
	return &Explanation{
		Value:       b.score,
		Description: fmt.Sprintf("constant score, bitmap of %d docs", b.bm.GetCardinality()),
	}, nil
}
