// Package tokenizer turns field text into index terms. Input is
// lower-cased, split on non-alphanumeric boundaries, stripped of stop-words
// and one-letter words, and reduced with a suffix stemmer. Queries and
// documents go through the same path so their terms line up.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// suffixRule replaces suffix with replacement when at least minLen
// characters remain.
type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

// Longest suffixes first; the first applicable rule wins.
var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// Token is a normalised term and its position among the kept tokens.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into stemmed, lower-cased Tokens with stop-words
// removed.
func Tokenize(text string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words)/2)
	for _, word := range words {
		term, ok := normalize(word)
		if !ok {
			continue
		}
		tokens = append(tokens, Token{Term: term, Position: len(tokens)})
	}
	return tokens
}

// Term normalises a single query word. It reports false when the word is
// dropped entirely, e.g. a stop-word.
func Term(word string) (string, bool) {
	tokens := Tokenize(word)
	if len(tokens) == 0 {
		return "", false
	}
	return tokens[0].Term, true
}

func normalize(word string) (string, bool) {
	if len(word) < 2 {
		return "", false
	}
	if _, isStop := stopWords[word]; isStop {
		return "", false
	}
	stemmed := stem(word)
	return stemmed, stemmed != ""
}

func stem(word string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		if stemmed := word[:len(word)-len(rule.suffix)] + rule.replacement; len(stemmed) >= rule.minLen {
			return stemmed
		}
	}
	return word
}
