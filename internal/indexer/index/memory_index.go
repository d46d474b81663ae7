package index

import (
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/tokenizer"
)

// MemoryIndex buffers postings per field and term. Documents must be added
// in increasing ordinal order so every posting list stays sorted without
// re-sorting.
type MemoryIndex struct {
	mu     sync.RWMutex
	fields map[string]map[string]PostingList
	docs   []DocEntry
	size   int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		fields: make(map[string]map[string]PostingList),
	}
}

// AddDocument tokenizes every field of the document and appends its
// postings. It returns the entry recorded for the document.
func (m *MemoryIndex) AddDocument(doc int, id string, fields map[string]string, indexedAt time.Time) DocEntry {
	entry := DocEntry{
		Doc:          doc,
		ID:           id,
		FieldLengths: make(map[string]int, len(fields)),
		IndexedAt:    indexedAt.UnixMilli(),
	}
	perField := make(map[string]map[string]*Posting, len(fields))
	for field, text := range fields {
		tokens := tokenizer.Tokenize(text)
		entry.FieldLengths[field] = len(tokens)
		terms := make(map[string]*Posting)
		for _, token := range tokens {
			p, exists := terms[token.Term]
			if !exists {
				p = &Posting{Doc: doc, Positions: make([]int, 0, 4)}
				terms[token.Term] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, token.Position)
		}
		perField[field] = terms
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for field, terms := range perField {
		postings, ok := m.fields[field]
		if !ok {
			postings = make(map[string]PostingList)
			m.fields[field] = postings
		}
		for term, p := range terms {
			postings[term] = append(postings[term], *p)
			m.size += int64(len(field) + len(term) + len(p.Positions)*8 + 64)
		}
	}
	m.docs = append(m.docs, entry)
	m.size += int64(len(id) + 32)
	return entry
}

// Search returns a copy of the postings for term in field.
func (m *MemoryIndex) Search(field, term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	postings, ok := m.fields[field][term]
	if !ok {
		return nil
	}
	result := make(PostingList, len(postings))
	copy(result, postings)
	return result
}

// Snapshot returns every term entry sorted by field then term, and the
// buffered documents in ordinal order.
func (m *MemoryIndex) Snapshot() ([]TermEntry, []DocEntry) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0)
	for field, terms := range m.fields {
		for term, postings := range terms {
			cp := make(PostingList, len(postings))
			copy(cp, postings)
			entries = append(entries, TermEntry{Field: field, Term: term, Postings: cp})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Field != entries[j].Field {
			return entries[i].Field < entries[j].Field
		}
		return entries[i].Term < entries[j].Term
	})
	docs := make([]DocEntry, len(m.docs))
	copy(docs, m.docs)
	return entries, docs
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = make(map[string]map[string]PostingList)
	m.docs = nil
	m.size = 0
}
