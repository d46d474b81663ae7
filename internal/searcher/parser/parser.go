// Package parser turns a raw query string into a QueryPlan: a disjunction
// of per-field term clauses, terms to exclude, and an optional tie-breaker
// override.
//
// Syntax, whitespace separated:
//
//	fox              bare term, expanded to every default field
//	title:fox        term in one field
//	title:fox^3      clause boost multiplies the field boost
//	NOT fox, -fox    exclude documents containing the term
//	tie:0.3          tie-breaker for this query
//	sort:newest      order by index time, newest first; also oldest, relevance
//
// AND and OR are accepted and ignored; every query is a disjunction.
package parser

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
)

// ErrInvalidQuery is returned for malformed boosts, tie-breakers or sort
// orders.
var ErrInvalidQuery = errors.New("invalid query")

// SortOrder selects how results are ranked.
type SortOrder string

const (
	SortRelevance SortOrder = ""
	SortNewest    SortOrder = "newest"
	SortOldest    SortOrder = "oldest"
)

// ParseSort validates a sort order name. "relevance" and "" both mean
// ranking by score.
func ParseSort(v string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(v)); o {
	case SortNewest, SortOldest:
		return o, nil
	case SortRelevance, "relevance":
		return SortRelevance, nil
	}
	return SortRelevance, fmt.Errorf("%w: sort order %q", ErrInvalidQuery, v)
}

// Clause matches Term in Field. Boost already includes the field boost.
type Clause struct {
	Field string  `json:"field"`
	Term  string  `json:"term"`
	Boost float64 `json:"boost"`
}

func (c Clause) String() string {
	return fmt.Sprintf("%s:%s^%g", c.Field, c.Term, c.Boost)
}

type QueryPlan struct {
	Clauses      []Clause
	ExcludeTerms []Clause
	// TieBreaker is set when the query carries tie:<value>.
	TieBreaker *float64
	Sort       SortOrder
	RawQuery   string
}

// Empty reports whether the plan has nothing to score.
func (p *QueryPlan) Empty() bool {
	return len(p.Clauses) == 0
}

// Normalized renders the plan canonically: clauses and exclusions sorted,
// independent of input spacing, order and case.
func (p *QueryPlan) Normalized() string {
	parts := make([]string, 0, len(p.Clauses))
	for _, c := range p.Clauses {
		parts = append(parts, c.String())
	}
	sort.Strings(parts)
	excludes := make([]string, 0, len(p.ExcludeTerms))
	for _, c := range p.ExcludeTerms {
		excludes = append(excludes, c.Field+":"+c.Term)
	}
	sort.Strings(excludes)
	s := strings.Join(parts, " ")
	if len(excludes) > 0 {
		s += " NOT " + strings.Join(excludes, " ")
	}
	if p.Sort != SortRelevance {
		s += " sort:" + string(p.Sort)
	}
	return s
}

// Parse builds a plan. defaultFields gives the fields bare terms expand to
// and each field's boost.
func Parse(query string, defaultFields []config.FieldConfig) (*QueryPlan, error) {
	plan := &QueryPlan{RawQuery: query}
	fieldBoost := make(map[string]float64, len(defaultFields))
	for _, f := range defaultFields {
		fieldBoost[f.Name] = f.Boost
	}
	seen := make(map[string]int)
	excluded := make(map[string]bool)

	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND", "OR":
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		if v, ok := strings.CutPrefix(strings.ToLower(word), "tie:"); ok {
			tie, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(tie) || math.IsInf(tie, 0) || tie < 0 {
				return nil, fmt.Errorf("%w: tie-breaker %q", ErrInvalidQuery, v)
			}
			plan.TieBreaker = &tie
			continue
		}
		if v, ok := strings.CutPrefix(strings.ToLower(word), "sort:"); ok {
			order, err := ParseSort(v)
			if err != nil {
				return nil, err
			}
			plan.Sort = order
			continue
		}
		exclude := excludeNext
		excludeNext = false
		if rest, ok := strings.CutPrefix(word, "-"); ok && rest != "" {
			word, exclude = rest, true
		}

		field, text, boost, err := splitClause(word)
		if err != nil {
			return nil, err
		}
		var targets []config.FieldConfig
		if field != "" {
			b, ok := fieldBoost[field]
			if !ok {
				b = 1
			}
			targets = []config.FieldConfig{{Name: field, Boost: b}}
		} else {
			targets = defaultFields
		}

		for _, token := range tokenizer.Tokenize(text) {
			for _, target := range targets {
				c := Clause{Field: target.Name, Term: token.Term, Boost: target.Boost * boost}
				key := c.Field + ":" + c.Term
				if exclude {
					if !excluded[key] {
						excluded[key] = true
						plan.ExcludeTerms = append(plan.ExcludeTerms, c)
					}
					continue
				}
				if i, dup := seen[key]; dup {
					plan.Clauses[i].Boost = math.Max(plan.Clauses[i].Boost, c.Boost)
					continue
				}
				seen[key] = len(plan.Clauses)
				plan.Clauses = append(plan.Clauses, c)
			}
		}
	}
	return plan, nil
}

// splitClause splits "field:text^boost" into its parts. Field is "" for a
// bare term and boost defaults to 1.
func splitClause(word string) (field, text string, boost float64, err error) {
	boost = 1
	text = word
	if i := strings.LastIndexByte(text, '^'); i >= 0 {
		b, perr := strconv.ParseFloat(text[i+1:], 64)
		if perr != nil || b <= 0 || math.IsInf(b, 0) {
			return "", "", 0, fmt.Errorf("%w: boost in %q", ErrInvalidQuery, word)
		}
		text, boost = text[:i], b
	}
	if f, t, ok := strings.Cut(text, ":"); ok && f != "" {
		field, text = strings.ToLower(f), t
	}
	return field, text, boost, nil
}
