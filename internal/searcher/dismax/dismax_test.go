package dismax

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"
)

func positioned(t testing.TB, docs []int, scores []float64) scorer.Scorer {
	t.Helper()
	s := scorer.NewSliceScorer(docs, scores)
	_, err := s.NextDoc()
	require.NoError(t, err)
	return s
}

func newDisMax(t testing.TB, tie float64, lists ...[]int) *Scorer {
	t.Helper()
	subs := make([]scorer.Scorer, len(lists))
	for i, l := range lists {
		subs[i] = positioned(t, l, nil)
	}
	d, err := New(tie, subs, len(subs))
	require.NoError(t, err)
	return d
}

func drain(t testing.TB, s scorer.Scorer) []int {
	t.Helper()
	var out []int
	for {
		doc, err := s.NextDoc()
		require.NoError(t, err)
		if doc == scorer.NoMoreDocs {
			return out
		}
		out = append(out, doc)
	}
}

func union(lists ...[]int) []int {
	seen := make(map[int]struct{})
	for _, l := range lists {
		for _, d := range l {
			seen[d] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func randomList(rng *rand.Rand, maxDoc int) []int {
	n := 1 + rng.Intn(20)
	seen := make(map[int]struct{}, n)
	for len(seen) < n {
		seen[rng.Intn(maxDoc)] = struct{}{}
	}
	out := make([]int, 0, n)
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func TestNextDoc_Union(t *testing.T) {
	d := newDisMax(t, 0, []int{1, 3, 5}, []int{2, 3, 6}, []int{5, 9})
	assert.Equal(t, scorer.Unpositioned, d.DocID())
	assert.Equal(t, []int{1, 2, 3, 5, 6, 9}, drain(t, d))
	assert.Equal(t, scorer.NoMoreDocs, d.DocID())
}

func TestNextDoc_RandomUnionIsStrictlyIncreasing(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		lists := make([][]int, 1+rng.Intn(8))
		for i := range lists {
			lists[i] = randomList(rng, 100)
		}
		got := drain(t, newDisMax(t, 0.3, lists...))
		require.Equal(t, union(lists...), got)
		for i := 1; i < len(got); i++ {
			require.Greater(t, got[i], got[i-1])
		}
	}
}

func TestAdvance_SkipsAhead(t *testing.T) {
	d := newDisMax(t, 0, []int{1, 5, 10}, []int{3, 7, 10})
	doc, err := d.Advance(6)
	require.NoError(t, err)
	assert.Equal(t, 7, doc)

	doc, err = d.Advance(7)
	require.NoError(t, err)
	assert.Equal(t, 7, doc, "advancing to the current doc stays put")

	doc, err = d.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 10, doc)

	doc, err = d.Advance(11)
	require.NoError(t, err)
	assert.Equal(t, scorer.NoMoreDocs, doc)
}

func TestAdvance_MatchesRepeatedNextDoc(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		lists := make([][]int, 1+rng.Intn(6))
		for i := range lists {
			lists[i] = randomList(rng, 200)
		}
		skipping := newDisMax(t, 0, lists...)
		stepping := newDisMax(t, 0, lists...)

		for {
			target := skipping.DocID() + 1 + rng.Intn(30)
			got, err := skipping.Advance(target)
			require.NoError(t, err)

			want := stepping.DocID()
			for want < target {
				want, err = stepping.NextDoc()
				require.NoError(t, err)
			}
			require.Equal(t, want, got, "target %d", target)
			if got == scorer.NoMoreDocs {
				break
			}
		}
	}
}

func TestScore_TieBreaker(t *testing.T) {
	cases := []struct {
		name string
		tie  float64
		want float64
	}{
		{"half", 0.5, 7.5},
		{"pure max", 0, 5.0},
		{"pure sum", 1, 10.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subs := []scorer.Scorer{
				positioned(t, []int{4}, []float64{3.0}),
				positioned(t, []int{4}, []float64{5.0}),
				positioned(t, []int{4}, []float64{2.0}),
			}
			d, err := New(tc.tie, subs, len(subs))
			require.NoError(t, err)
			doc, err := d.NextDoc()
			require.NoError(t, err)
			require.Equal(t, 4, doc)

			score, err := d.Score()
			require.NoError(t, err)
			assert.Equal(t, tc.want, score)
		})
	}
}

func TestScore_SingleMatchIgnoresTieBreaker(t *testing.T) {
	for _, tie := range []float64{0, 0.25, 1} {
		subs := []scorer.Scorer{
			positioned(t, []int{1, 8}, []float64{4.5, 1}),
			positioned(t, []int{2, 8}, []float64{9, 1}),
		}
		d, err := New(tie, subs, 2)
		require.NoError(t, err)
		_, err = d.NextDoc()
		require.NoError(t, err)
		score, err := d.Score()
		require.NoError(t, err)
		assert.Equal(t, 4.5, score, "tie %v", tie)
	}
}

func TestScore_PartialOverlap(t *testing.T) {
	subs := []scorer.Scorer{
		positioned(t, []int{1, 2, 3}, []float64{1, 2, 3}),
		positioned(t, []int{2, 3}, []float64{4, 1}),
		positioned(t, []int{3}, []float64{10}),
	}
	d, err := New(0.1, subs, 3)
	require.NoError(t, err)

	want := map[int]float64{
		1: 1,
		2: 4 + 2*0.1,
		3: 10 + (3+1)*0.1,
	}
	for {
		doc, err := d.NextDoc()
		require.NoError(t, err)
		if doc == scorer.NoMoreDocs {
			break
		}
		score, err := d.Score()
		require.NoError(t, err)
		assert.InDelta(t, want[doc], score, 1e-12, "doc %d", doc)
	}
}

func TestExhaustion_IsIdempotent(t *testing.T) {
	d := newDisMax(t, 0, []int{1}, []int{2})
	drain(t, d)
	for i := 0; i < 3; i++ {
		doc, err := d.NextDoc()
		require.NoError(t, err)
		assert.Equal(t, scorer.NoMoreDocs, doc)
		doc, err = d.Advance(i)
		require.NoError(t, err)
		assert.Equal(t, scorer.NoMoreDocs, doc)
	}
	assert.Equal(t, 0, d.Active())
	_, err := d.Score()
	assert.ErrorIs(t, err, scorer.ErrNotPositioned)
}

func TestHeapShrink_ExhaustedScorerStopsContributing(t *testing.T) {
	short := positioned(t, []int{1, 2}, []float64{100, 100})
	long := positioned(t, []int{1, 2, 3, 4, 5}, []float64{1, 1, 1, 1, 1})
	other := positioned(t, []int{3, 5}, []float64{2, 2})
	subs := []scorer.Scorer{short, long, other}
	d, err := New(1, subs, 3)
	require.NoError(t, err)

	var docs []int
	scores := make(map[int]float64)
	for {
		doc, err := d.NextDoc()
		require.NoError(t, err)
		if doc == scorer.NoMoreDocs {
			break
		}
		docs = append(docs, doc)
		scores[doc], err = d.Score()
		require.NoError(t, err)
		if doc == 3 {
			assert.Equal(t, 2, d.Active())
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, docs)
	assert.Equal(t, map[int]float64{1: 101, 2: 101, 3: 3, 4: 1, 5: 3}, scores)
	assert.Nil(t, subs[2], "vacated slots are cleared")
}

func TestScore_PrunedWalkMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for iter := 0; iter < 300; iter++ {
		n := 1 + rng.Intn(16)
		subs := make([]scorer.Scorer, n)
		for i := range subs {
			docs := randomList(rng, 40)
			scores := make([]float64, len(docs))
			for j := range scores {
				scores[j] = rng.Float64() * 10
			}
			subs[i] = positioned(t, docs, scores)
		}
		d, err := New(rng.Float64(), subs, n)
		require.NoError(t, err)

		for {
			var doc int
			if rng.Intn(3) == 0 {
				doc, err = d.Advance(d.DocID() + 1 + rng.Intn(5))
			} else {
				doc, err = d.NextDoc()
			}
			require.NoError(t, err)
			if doc == scorer.NoMoreDocs {
				break
			}
			requireHeapOrdered(t, d)

			sum, top, err := d.sumMax()
			require.NoError(t, err)
			wantSum, wantTop := linearSumMax(t, d)
			require.InDelta(t, wantSum, sum, 1e-9)
			require.Equal(t, wantTop, top)
		}
	}
}

func requireHeapOrdered(t *testing.T, d *Scorer) {
	t.Helper()
	for i := 0; i < d.active; i++ {
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < d.active {
				require.LessOrEqual(t, d.subs[i].DocID(), d.subs[c].DocID())
			}
		}
	}
}

func linearSumMax(t *testing.T, d *Scorer) (sum, top float64) {
	t.Helper()
	first := true
	for _, s := range d.subs[:d.active] {
		if s.DocID() != d.doc {
			continue
		}
		v, err := s.Score()
		require.NoError(t, err)
		sum += v
		if first || v > top {
			top = v
			first = false
		}
	}
	return sum, top
}

func TestNew_Preconditions(t *testing.T) {
	unpositioned := scorer.NewSliceScorer([]int{1}, nil)
	_, err := New(0.1, []scorer.Scorer{unpositioned}, 1)
	assert.ErrorIs(t, err, ErrNotPositioned)

	exhausted := scorer.NewSliceScorer(nil, nil)
	_, err = exhausted.NextDoc()
	require.NoError(t, err)
	_, err = New(0.1, []scorer.Scorer{exhausted}, 1)
	assert.ErrorIs(t, err, ErrNotPositioned)

	_, err = New(-0.5, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(0, []scorer.Scorer{positioned(t, []int{1}, nil)}, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNew_IgnoresSlotsPastActive(t *testing.T) {
	subs := []scorer.Scorer{
		positioned(t, []int{4, 6}, nil),
		positioned(t, []int{5}, nil),
		scorer.NewSliceScorer([]int{1}, nil),
	}
	d, err := New(0, subs, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5, 6}, drain(t, d))
}

func TestEmpty(t *testing.T) {
	d, err := New(0.2, nil, 0)
	require.NoError(t, err)
	doc, err := d.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, scorer.NoMoreDocs, doc)
}

func TestScore_BeforeFirstAdvance(t *testing.T) {
	d := newDisMax(t, 0, []int{1})
	_, err := d.Score()
	assert.ErrorIs(t, err, scorer.ErrNotPositioned)
}

func TestExplain_Unsupported(t *testing.T) {
	d := newDisMax(t, 0, []int{1})
	_, err := d.NextDoc()
	require.NoError(t, err)
	_, err = d.Explain(1)
	assert.ErrorIs(t, err, scorer.ErrExplainUnsupported)
}

var errDisk = errors.New("disk read failed")

// failingScorer fails once it is asked to move past failAt.
type failingScorer struct {
	*scorer.SliceScorer
	failAt int
}

func (f *failingScorer) NextDoc() (int, error) {
	if f.DocID() >= f.failAt {
		return f.DocID(), errDisk
	}
	return f.SliceScorer.NextDoc()
}

func (f *failingScorer) Advance(target int) (int, error) {
	if target > f.failAt {
		return f.DocID(), errDisk
	}
	return f.SliceScorer.Advance(target)
}

func TestSubScorerErrorsPropagate(t *testing.T) {
	bad := &failingScorer{SliceScorer: scorer.NewSliceScorer([]int{1, 2, 3}, nil), failAt: 2}
	_, err := bad.SliceScorer.NextDoc()
	require.NoError(t, err)

	d, err := New(0, []scorer.Scorer{bad, positioned(t, []int{2, 9}, nil)}, 2)
	require.NoError(t, err)

	doc, err := d.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 1, doc)
	doc, err = d.NextDoc()
	require.NoError(t, err)
	assert.Equal(t, 2, doc)

	_, err = d.NextDoc()
	assert.ErrorIs(t, err, errDisk)
}

func TestAdvance_SubScorerErrorPropagates(t *testing.T) {
	bad := &failingScorer{SliceScorer: scorer.NewSliceScorer([]int{1, 2, 3}, nil), failAt: 2}
	_, err := bad.SliceScorer.NextDoc()
	require.NoError(t, err)
	d, err := New(0, []scorer.Scorer{bad}, 1)
	require.NoError(t, err)
	_, err = d.Advance(3)
	assert.ErrorIs(t, err, errDisk)
}

func TestNested(t *testing.T) {
	inner := newDisMax(t, 0, []int{2, 4}, []int{4, 8})
	_, err := inner.NextDoc()
	require.NoError(t, err)
	outer, err := New(0, []scorer.Scorer{inner, positioned(t, []int{1, 4, 16}, nil)}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4, 8, 16}, drain(t, outer))
}

func keyed(t testing.TB, docs []int) scorer.Scorer {
	t.Helper()
	s := scorer.NewSliceScorer(docs, nil)
	s.SetSortKeys(func(doc int, dst []int) []int { return append(dst, doc*100) })
	_, err := s.NextDoc()
	require.NoError(t, err)
	return s
}

func TestSorts_CopiedFromRoot(t *testing.T) {
	d, err := New(0.1, []scorer.Scorer{keyed(t, []int{2, 9}), keyed(t, []int{5, 9, 12})}, 2)
	require.NoError(t, err)
	assert.Nil(t, d.Sorts(), "unpositioned")

	doc, err := d.NextDoc()
	require.NoError(t, err)
	require.Equal(t, 2, doc)
	assert.Equal(t, []int{200}, d.Sorts())

	doc, err = d.Advance(6)
	require.NoError(t, err)
	require.Equal(t, 9, doc)
	assert.Equal(t, []int{900}, d.Sorts())

	doc, err = d.NextDoc()
	require.NoError(t, err)
	require.Equal(t, 12, doc)
	assert.Equal(t, []int{1200}, d.Sorts())
	assert.Equal(t, []int{1200}, scorer.Sorts(d))

	doc, err = d.NextDoc()
	require.NoError(t, err)
	require.Equal(t, scorer.NoMoreDocs, doc)
	assert.Nil(t, d.Sorts())
}

func TestSorts_NestedAndUnkeyed(t *testing.T) {
	inner, err := New(0, []scorer.Scorer{keyed(t, []int{3}), keyed(t, []int{7})}, 2)
	require.NoError(t, err)
	_, err = inner.NextDoc()
	require.NoError(t, err)
	outer, err := New(0, []scorer.Scorer{inner, keyed(t, []int{5})}, 2)
	require.NoError(t, err)

	var keys [][]int
	for {
		doc, err := outer.NextDoc()
		require.NoError(t, err)
		if doc == scorer.NoMoreDocs {
			break
		}
		keys = append(keys, append([]int(nil), outer.Sorts()...))
	}
	assert.Equal(t, [][]int{{300}, {500}, {700}}, keys)

	plain := newDisMax(t, 0, []int{1, 2})
	_, err = plain.NextDoc()
	require.NoError(t, err)
	assert.Nil(t, plain.Sorts())
}

func TestCost_SumsLiveSubScorers(t *testing.T) {
	d := newDisMax(t, 0, []int{1, 2, 3}, []int{4, 5})
	assert.Equal(t, int64(3), d.Cost())
	assert.Equal(t, int64(3), scorer.Cost(d))

	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain(t, d))
	assert.Zero(t, d.Cost())
}

func BenchmarkNextDocAndScore(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	lists := make([][]int, 8)
	for i := range lists {
		lists[i] = randomList(rng, 1_000_000)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d := newDisMax(b, 0.1, lists...)
		for {
			doc, _ := d.NextDoc()
			if doc == scorer.NoMoreDocs {
				break
			}
			_, _ = d.Score()
		}
	}
}
