// Package ranker scores single-term clauses with BM25. A TermScorer walks
// one field/term posting list and is the leaf the disjunction-max scorer
// merges.
package ranker

import (
	"fmt"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/searcher/scorer"
)

const (
	k1 = 1.2
	b  = 0.75
)

// FieldLengths returns the token length of a field in a document.
type FieldLengths func(doc int) int

// TermScorer iterates the postings of one term in one field.
type TermScorer struct {
	field    string
	term     string
	postings index.PostingList
	boost    float64
	idf      float64
	stats    index.FieldStats
	lengths  FieldLengths
	keys     scorer.SortKeyFunc
	sorts    []int
	pos      int
	doc      int
}

// NewTermScorer creates an unpositioned scorer. postings must be sorted by
// doc; stats describe the field over the same shard.
func NewTermScorer(field, term string, postings index.PostingList, boost float64, stats index.FieldStats, lengths FieldLengths) *TermScorer {
	return &TermScorer{
		field:    field,
		term:     term,
		postings: postings,
		boost:    boost,
		idf:      computeIDF(stats.DocCount, int64(len(postings))),
		stats:    stats,
		lengths:  lengths,
		pos:      -1,
		doc:      scorer.Unpositioned,
	}
}

// SetSortKeys makes the scorer report fn's keys for its current document.
func (s *TermScorer) SetSortKeys(fn scorer.SortKeyFunc) {
	s.keys = fn
}

// Sorts returns the sort keys of the current document, or nil.
func (s *TermScorer) Sorts() []int {
	if s.keys == nil || s.doc == scorer.Unpositioned || s.doc == scorer.NoMoreDocs {
		return nil
	}
	s.sorts = s.keys(s.doc, s.sorts[:0])
	return s.sorts
}

func (s *TermScorer) DocID() int {
	return s.doc
}

func (s *TermScorer) NextDoc() (int, error) {
	if s.doc == scorer.NoMoreDocs {
		return s.doc, nil
	}
	s.pos++
	return s.settle(), nil
}

// Advance binary-searches the remaining postings for the first doc >= target.
func (s *TermScorer) Advance(target int) (int, error) {
	if s.doc == scorer.NoMoreDocs || (s.doc != scorer.Unpositioned && s.doc >= target) {
		return s.doc, nil
	}
	start := s.pos + 1
	rest := s.postings[start:]
	s.pos = start + sort.Search(len(rest), func(i int) bool {
		return rest[i].Doc >= target
	})
	return s.settle(), nil
}

func (s *TermScorer) settle() int {
	if s.pos >= len(s.postings) {
		s.doc = scorer.NoMoreDocs
	} else {
		s.doc = s.postings[s.pos].Doc
	}
	return s.doc
}

func (s *TermScorer) Score() (float64, error) {
	if s.doc == scorer.Unpositioned || s.doc == scorer.NoMoreDocs {
		return 0, scorer.ErrNotPositioned
	}
	p := s.postings[s.pos]
	tf := computeTFNorm(float64(p.Frequency), float64(s.lengths(p.Doc)), s.stats.AvgLength())
	return s.boost * s.idf * tf, nil
}

// Explain breaks down the BM25 score of doc, independent of the scorer's
// position.
func (s *TermScorer) Explain(doc int) (*scorer.Explanation, error) {
	i := sort.Search(len(s.postings), func(i int) bool { return s.postings[i].Doc >= doc })
	if i >= len(s.postings) || s.postings[i].Doc != doc {
		e := scorer.NoMatch(doc)
		e.Description = fmt.Sprintf("no match on %s:%s for doc %d", s.field, s.term, doc)
		return e, nil
	}
	p := s.postings[i]
	dl := float64(s.lengths(doc))
	avgdl := s.stats.AvgLength()
	tf := computeTFNorm(float64(p.Frequency), dl, avgdl)
	return &scorer.Explanation{
		Value:       s.boost * s.idf * tf,
		Description: fmt.Sprintf("weight(%s:%s in %d), product of:", s.field, s.term, doc),
		Details: []*scorer.Explanation{
			{Value: s.boost, Description: "boost"},
			{
				Value:       s.idf,
				Description: "idf, computed as log((N - n) / (n + 0.5) + 1) from:",
				Details: []*scorer.Explanation{
					{Value: float64(len(s.postings)), Description: "n, number of documents containing term"},
					{Value: float64(s.stats.DocCount), Description: "N, total number of documents with field"},
				},
			},
			{
				Value:       tf,
				Description: "tf, computed as freq * (k1 + 1) / (freq + k1 * (1 - b + b * dl / avgdl)) from:",
				Details: []*scorer.Explanation{
					{Value: float64(p.Frequency), Description: "freq, occurrences of term within document"},
					{Value: k1, Description: "k1, term saturation parameter"},
					{Value: b, Description: "b, length normalization parameter"},
					{Value: dl, Description: "dl, length of field"},
					{Value: avgdl, Description: "avgdl, average length of field"},
				},
			},
		},
	}, nil
}

// Cost returns the number of postings, an upper bound on matches.
func (s *TermScorer) Cost() int64 {
	return int64(len(s.postings))
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	if numerator < 0 {
		numerator = 0
	}
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
