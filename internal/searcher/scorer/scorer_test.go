package scorer

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceScorer_NextDoc(t *testing.T) {
	s := NewSliceScorer([]int{1, 3, 5}, []float64{0.1, 0.3, 0.5})
	assert.Equal(t, Unpositioned, s.DocID())
	_, err := s.Score()
	assert.ErrorIs(t, err, ErrNotPositioned)

	var docs []int
	var scores []float64
	for {
		doc, err := s.NextDoc()
		require.NoError(t, err)
		if doc == NoMoreDocs {
			break
		}
		docs = append(docs, doc)
		score, err := s.Score()
		require.NoError(t, err)
		scores = append(scores, score)
	}
	assert.Equal(t, []int{1, 3, 5}, docs)
	assert.Equal(t, []float64{0.1, 0.3, 0.5}, scores)

	doc, err := s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
}

func TestSliceScorer_Advance(t *testing.T) {
	s := NewSliceScorer([]int{1, 3, 5, 7, 9}, nil)

	doc, err := s.Advance(4)
	require.NoError(t, err)
	assert.Equal(t, 5, doc)
	assert.Equal(t, int64(2), s.Cost())

	doc, err = s.Advance(5)
	require.NoError(t, err)
	assert.Equal(t, 5, doc)

	doc, err = s.Advance(9)
	require.NoError(t, err)
	assert.Equal(t, 9, doc)

	doc, err = s.Advance(100)
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
	assert.Equal(t, int64(0), s.Cost())
}

func TestSliceScorer_Empty(t *testing.T) {
	s := NewSliceScorer(nil, nil)
	doc, err := s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
}

func TestSliceScorer_Explain(t *testing.T) {
	s := NewSliceScorer([]int{2}, []float64{1.25})
	expl, err := s.Explain(2)
	require.NoError(t, err)
	assert.True(t, expl.IsMatch())
	assert.Equal(t, 1.25, expl.Value)

	expl, err = s.Explain(3)
	require.NoError(t, err)
	assert.False(t, expl.IsMatch())
}

func TestBitmapScorer(t *testing.T) {
	bm := roaring.BitmapOf(2, 4, 8, 16, 32)
	s := NewBitmapScorer(bm, 0.5)

	doc, err := s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 2, doc)
	score, err := s.Score()
	require.NoError(t, err)
	assert.Equal(t, 0.5, score)

	doc, err = s.Advance(9)
	require.NoError(t, err)
	assert.Equal(t, 16, doc)

	doc, err = s.Advance(16)
	require.NoError(t, err)
	assert.Equal(t, 16, doc)

	doc, err = s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 32, doc)

	doc, err = s.Advance(33)
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
	_, err = s.Score()
	assert.ErrorIs(t, err, ErrNotPositioned)

	expl, err := s.Explain(8)
	require.NoError(t, err)
	assert.Equal(t, 0.5, expl.Value)
}

func TestScoreAll_TopK(t *testing.T) {
	s := NewSliceScorer([]int{1, 2, 3, 4, 5}, []float64{1, 3, 2, 5, 4})
	top := NewTopKCollector(3)
	total := &TotalHitsCollector{}
	require.NoError(t, ScoreAll(s, MultiCollector{top, total}))

	assert.Equal(t, []ScoreDoc{{Doc: 4, Score: 5}, {Doc: 5, Score: 4}, {Doc: 2, Score: 3}}, top.Results())
	assert.Equal(t, 5, total.Total())
}

func TestTopKCollector_TiesPreferLowerDoc(t *testing.T) {
	s := NewSliceScorer([]int{1, 2, 3, 4}, []float64{2, 2, 2, 2})
	top := NewTopKCollector(2)
	require.NoError(t, ScoreAll(s, top))
	assert.Equal(t, []ScoreDoc{{Doc: 1, Score: 2}, {Doc: 2, Score: 2}}, top.Results())
}

func TestScoreAll_StartsFromCurrentDoc(t *testing.T) {
	s := NewSliceScorer([]int{1, 2, 3}, nil)
	_, err := s.Advance(2)
	require.NoError(t, err)
	total := &TotalHitsCollector{}
	require.NoError(t, ScoreAll(s, total))
	assert.Equal(t, 2, total.Total())
}

func TestFilterCollector(t *testing.T) {
	s := NewSliceScorer([]int{1, 2, 3, 4}, []float64{4, 3, 2, 1})
	total := &TotalHitsCollector{}
	maxScore := &MaxScoreCollector{}
	f := &FilterCollector{Exclude: roaring.BitmapOf(1, 3), Next: MultiCollector{total, maxScore}}
	require.NoError(t, ScoreAll(s, f))
	assert.Equal(t, 2, total.Total())
	assert.Equal(t, 3.0, maxScore.MaxScore())
}

var errBroken = errors.New("broken postings")

type brokenScorer struct{ *SliceScorer }

func (b brokenScorer) Score() (float64, error) { return 0, errBroken }

func TestScoreAll_PropagatesScoreErrors(t *testing.T) {
	s := brokenScorer{NewSliceScorer([]int{1}, nil)}
	err := ScoreAll(s, NewTopKCollector(1))
	assert.ErrorIs(t, err, errBroken)
}

func TestExplanation_String(t *testing.T) {
	e := &Explanation{
		Value:       2,
		Description: "sum of:",
		Details: []*Explanation{
			{Value: 1.5, Description: "a"},
			{Value: 0.5, Description: "b"},
		},
	}
	assert.Equal(t, "2 = sum of:\n  1.5 = a\n  0.5 = b\n", e.String())
}

func TestBitmapScorer_AdvanceBeyondOrdinals(t *testing.T) {
	s := NewBitmapScorer(roaring.BitmapOf(2, 4), 1)
	doc, err := s.Advance(NoMoreDocs)
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)

	if strconv.IntSize == 64 {
		s = NewBitmapScorer(roaring.BitmapOf(2, 4), 1)
		shift := 32
		doc, err = s.Advance(1<<shift + 3)
		require.NoError(t, err)
		assert.Equal(t, NoMoreDocs, doc)
	}

	s = NewBitmapScorer(roaring.BitmapOf(5, math.MaxUint32), 1)
	doc, err = s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 5, doc)
	doc, err = s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, NoMoreDocs, doc)
	assert.Equal(t, int64(2), s.Cost())
}

func datedKeys(times map[int]int) SortKeyFunc {
	return func(doc int, dst []int) []int {
		return append(dst, times[doc])
	}
}

func TestSortedTopKCollector(t *testing.T) {
	times := map[int]int{1: 10, 2: 50, 3: 30, 4: 50, 5: 20}

	s := NewSliceScorer([]int{1, 2, 3, 4, 5}, []float64{1, 1, 1, 2, 1})
	s.SetSortKeys(datedKeys(times))
	top := NewSortedTopKCollector(3, SortField{Key: 0, Descending: true})
	require.NoError(t, ScoreAll(s, top))
	assert.Equal(t, []ScoreDoc{
		{Doc: 4, Score: 2, Sorts: []int{50}},
		{Doc: 2, Score: 1, Sorts: []int{50}},
		{Doc: 3, Score: 1, Sorts: []int{30}},
	}, top.Results())

	s = NewSliceScorer([]int{1, 2, 3, 4, 5}, nil)
	s.SetSortKeys(datedKeys(times))
	top = NewSortedTopKCollector(2, SortField{Key: 0})
	require.NoError(t, ScoreAll(s, top))
	assert.Equal(t, []ScoreDoc{
		{Doc: 1, Score: 1, Sorts: []int{10}},
		{Doc: 5, Score: 1, Sorts: []int{20}},
	}, top.Results())
}

func TestSortedTopKCollector_MissingKeys(t *testing.T) {
	s := NewSliceScorer([]int{1, 2}, nil)
	err := ScoreAll(s, NewSortedTopKCollector(2, SortField{Key: 0}))
	assert.ErrorIs(t, err, ErrNoSortKeys)

	s = NewSliceScorer([]int{1, 2}, nil)
	s.SetSortKeys(datedKeys(map[int]int{1: 1, 2: 2}))
	err = ScoreAll(s, NewSortedTopKCollector(2, SortField{Key: 1}))
	assert.ErrorIs(t, err, ErrNoSortKeys)
}

func TestTopKCollector_SizeHint(t *testing.T) {
	top := NewTopKCollector(100)
	top.SizeHint(-1)
	assert.Equal(t, 100, cap(top.h.docs))
	top.SizeHint(2)
	assert.Equal(t, 2, cap(top.h.docs))

	s := NewSliceScorer([]int{1, 2, 3}, []float64{1, 2, 3})
	require.NoError(t, ScoreAll(s, top))
	assert.Len(t, top.Results(), 3)
}

func TestSortsAndCostHelpers(t *testing.T) {
	s := NewSliceScorer([]int{3, 6}, nil)
	assert.Nil(t, Sorts(s))
	assert.Equal(t, int64(2), Cost(s))

	s.SetSortKeys(func(doc int, dst []int) []int { return append(dst, doc*10, -doc) })
	assert.Nil(t, Sorts(s), "unpositioned")
	_, err := s.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, []int{30, -3}, Sorts(s))

	plain := plainScorer{s}
	assert.Equal(t, int64(-1), Cost(plain))
	assert.Nil(t, Sorts(plain))
}

// plainScorer hides every method outside the Scorer interface.
type plainScorer struct{ Scorer }
