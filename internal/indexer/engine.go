// Package indexer owns the per-shard index engine: an in-memory buffer of
// recent documents backed by immutable on-disk segments. Documents are
// numbered with shard-local ordinals that increase in indexing order;
// scorers iterate postings in that order.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
)

// ErrEmptyDocument is returned when a document has no id or no fields.
var ErrEmptyDocument = errors.New("document has no id or fields")

type Engine struct {
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	cfg      config.IndexerConfig
	logger   *slog.Logger

	// mu guards everything below. Flush holds it for writing so a document
	// is never visible in both the memory index and a new segment.
	onFlush func(segment string, docs int)

	mu      sync.RWMutex
	readers []*segment.Reader
	loaded  map[string]bool
	docs    []index.DocEntry
	byID    map[string]int
	deleted *roaring.Bitmap
	stats   map[string]index.FieldStats
}

func NewEngine(cfg config.IndexerConfig) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		memIndex: index.NewMemoryIndex(),
		writer:   segment.NewWriter(cfg.DataDir),
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer", "data_dir", cfg.DataDir),
		loaded:   make(map[string]bool),
		byID:     make(map[string]int),
		deleted:  roaring.New(),
		stats:    make(map[string]index.FieldStats),
	}
	loaded, err := e.loadSegments()
	if err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	e.logger.Info("segment recovery complete",
		"segments_loaded", loaded,
		"max_doc", len(e.docs),
		"deleted", e.deleted.GetCardinality(),
	)
	return e, nil
}

// IndexDocument indexes the document stamped with the current time.
func (e *Engine) IndexDocument(docID string, fields map[string]string) (int, error) {
	return e.IndexDocumentAt(docID, fields, time.Now())
}

// IndexDocumentAt assigns the next ordinal to the document and buffers its
// postings, recording at as its sort time. Re-indexing an id already
// present marks its previous ordinal deleted.
func (e *Engine) IndexDocumentAt(docID string, fields map[string]string, at time.Time) (int, error) {
	if docID == "" || len(fields) == 0 {
		return 0, ErrEmptyDocument
	}
	e.mu.Lock()
	doc := len(e.docs)
	entry := e.memIndex.AddDocument(doc, docID, fields, at)
	e.register(entry)
	e.mu.Unlock()

	e.logger.Debug("document indexed in memory",
		"doc_id", docID,
		"ordinal", doc,
		"mem_size", e.memIndex.Size(),
	)
	if e.memIndex.Size() >= e.cfg.SegmentMaxSize {
		e.logger.Info("memory index reached max size, flushing to disk",
			"size", e.memIndex.Size(),
			"threshold", e.cfg.SegmentMaxSize,
		)
		if err := e.Flush(); err != nil {
			return doc, fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return doc, nil
}

// register records a document entry. Callers hold e.mu and present
// entries in ordinal order.
func (e *Engine) register(entry index.DocEntry) {
	for len(e.docs) < entry.Doc {
		// Ordinal gap left by documents lost before a flush.
		e.deleted.Add(uint32(len(e.docs)))
		e.docs = append(e.docs, index.DocEntry{Doc: len(e.docs)})
	}
	if prev, ok := e.byID[entry.ID]; ok {
		e.deleted.Add(uint32(prev))
		for field, n := range e.docs[prev].FieldLengths {
			s := e.stats[field]
			s.DocCount--
			s.TotalLength -= int64(n)
			e.stats[field] = s
		}
	}
	e.byID[entry.ID] = entry.Doc
	e.docs = append(e.docs, entry)
	for field, n := range entry.FieldLengths {
		s := e.stats[field]
		s.DocCount++
		s.TotalLength += int64(n)
		e.stats[field] = s
	}
}

// OnFlush registers fn to run after every successful flush, outside the
// engine lock. It must be set before indexing starts.
func (e *Engine) OnFlush(fn func(segment string, docs int)) {
	e.onFlush = fn
}

// Flush writes the memory index to a new segment and resets it.
func (e *Engine) Flush() error {
	segmentName, docs, err := e.flush()
	if err != nil || docs == 0 {
		return err
	}
	if e.onFlush != nil {
		e.onFlush(segmentName, docs)
	}
	return nil
}

func (e *Engine) flush() (string, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries, docs := e.memIndex.Snapshot()
	if len(docs) == 0 {
		return "", 0, nil
	}
	segmentName, err := e.writer.Write(entries, docs)
	if err != nil {
		return "", 0, fmt.Errorf("writing segment: %w", err)
	}
	segPath := filepath.Join(e.cfg.DataDir, segmentName)
	reader, err := segment.OpenReader(segPath)
	if err != nil {
		return "", 0, fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.readers = append(e.readers, reader)
	e.loaded[segmentName] = true
	e.memIndex.Reset()
	e.logger.Info("segment flushed",
		"segment", segmentName,
		"terms", reader.Terms(),
		"docs", reader.DocCount(),
		"active_segments", len(e.readers),
	)
	return segmentName, len(docs), nil
}

// Search returns the live postings for an already-normalized term in
// field, sorted by ordinal.
func (e *Engine) Search(field, term string) (index.PostingList, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := e.memIndex.Search(field, term)
	for _, reader := range e.readers {
		postings, err := reader.Search(field, term)
		if err != nil {
			return nil, fmt.Errorf("searching segment %s: %w", filepath.Base(reader.Path()), err)
		}
		all = append(all, postings...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Doc < all[j].Doc
	})
	live := all[:0]
	for i, p := range all {
		if i > 0 && p.Doc == all[i-1].Doc {
			continue
		}
		if e.deleted.Contains(uint32(p.Doc)) {
			continue
		}
		live = append(live, p)
	}
	return live, nil
}

// FieldStats returns document count and total length of field over live
// documents.
func (e *Engine) FieldStats(field string) index.FieldStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats[field]
}

// FieldLength returns the token count of field in the document at doc.
func (e *Engine) FieldLength(doc int, field string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if doc < 0 || doc >= len(e.docs) {
		return 0
	}
	return e.docs[doc].FieldLengths[field]
}

// IndexedAt returns the unix millisecond sort time of the document at doc,
// or 0 when unknown.
func (e *Engine) IndexedAt(doc int) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if doc < 0 || doc >= len(e.docs) {
		return 0
	}
	return e.docs[doc].IndexedAt
}

// ExternalID maps an ordinal back to the document id it was indexed under.
func (e *Engine) ExternalID(doc int) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if doc < 0 || doc >= len(e.docs) || e.docs[doc].ID == "" {
		return "", false
	}
	return e.docs[doc].ID, true
}

// Ordinal returns the live ordinal of a document id.
func (e *Engine) Ordinal(docID string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.byID[docID]
	return doc, ok
}

// LiveDocs returns a bitmap of every ordinal that has not been deleted.
func (e *Engine) LiveDocs() *roaring.Bitmap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	live := roaring.New()
	if len(e.docs) > 0 {
		live.AddRange(0, uint64(len(e.docs)))
	}
	live.AndNot(e.deleted)
	return live
}

// Deleted returns a copy of the deleted-ordinal set.
func (e *Engine) Deleted() *roaring.Bitmap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.deleted.Clone()
}

// DocCount returns the number of live documents.
func (e *Engine) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byID)
}

// MaxDoc returns one more than the highest ordinal assigned.
func (e *Engine) MaxDoc() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

func (e *Engine) SegmentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.readers)
}

func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if err := e.Flush(); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.memIndex.DocCount() > 0 {
					if err := e.Flush(); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

// ReloadSegments opens segments written by another process since the last
// scan and returns how many were added. Segments that fail to open are
// logged and retried on the next call.
func (e *Engine) ReloadSegments() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.loadSegments()
	if err != nil {
		e.logger.Error("segment reload failed", "error", err)
	}
	if n > 0 {
		e.logger.Info("segments reloaded",
			"new_segments", n,
			"active_segments", len(e.readers),
			"max_doc", len(e.docs),
		)
	}
	return n
}

func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		e.logger.Error("final flush on close failed", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reader := range e.readers {
		if err := reader.Close(); err != nil {
			e.logger.Error("closing segment reader", "error", err)
		}
	}
	e.readers = nil
	return nil
}

// loadSegments opens every segment in the data directory not loaded yet,
// in name order, and registers their documents. Callers hold e.mu or own
// e exclusively.
func (e *Engine) loadSegments() (int, error) {
	entries, err := os.ReadDir(e.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	names := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, segment.Extension) && !e.loaded[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, name))
		if err != nil {
			e.logger.Error("failed to open segment, skipping",
				"segment", name,
				"error", err,
			)
			continue
		}
		docs := reader.Docs()
		if len(docs) > 0 && docs[0].Doc < len(e.docs) {
			e.logger.Error("segment overlaps indexed ordinals, skipping",
				"segment", name,
				"first_doc", docs[0].Doc,
				"max_doc", len(e.docs),
			)
			reader.Close()
			e.loaded[name] = true
			continue
		}
		for _, doc := range docs {
			e.register(doc)
		}
		e.readers = append(e.readers, reader)
		e.loaded[name] = true
		loaded++
		e.logger.Info("loaded segment",
			"segment", name,
			"terms", reader.Terms(),
			"docs", reader.DocCount(),
		)
	}
	return loaded, nil
}
