// Package index holds the in-memory inverted index that buffers documents
// until they are flushed to an immutable segment, and the posting types
// shared with the segment format.
package index

// Posting records one document's occurrences of a term in a field. Doc is
// the shard-local ordinal assigned at indexing time.
type Posting struct {
	Doc       int   `json:"d"`
	Frequency int   `json:"f"`
	Positions []int `json:"p,omitempty"`
}

// PostingList is sorted by Doc, ascending, with no duplicates.
type PostingList []Posting

// TermEntry is the postings of one term in one field.
type TermEntry struct {
	Field    string
	Term     string
	Postings PostingList
}

// DocEntry maps a shard-local ordinal back to the external document ID and
// records the token length of each indexed field. IndexedAt is the unix
// millisecond time the document was accepted and serves as its sort key.
type DocEntry struct {
	Doc          int            `json:"d"`
	ID           string         `json:"id"`
	FieldLengths map[string]int `json:"l"`
	IndexedAt    int64          `json:"t,omitempty"`
}

// FieldStats aggregates a field over the live documents of a shard.
type FieldStats struct {
	DocCount    int64
	TotalLength int64
}

// AvgLength returns the mean token length of the field, or 0 when empty.
func (s FieldStats) AvgLength() float64 {
	if s.DocCount == 0 {
		return 0
	}
	return float64(s.TotalLength) / float64(s.DocCount)
}
