// Package publisher records accepted documents and publishes ingest events
// to Kafka for the indexer. Document ids are content-derived unless the
// caller supplies one, so retried submissions are idempotent.
package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/resilience"
)

// Recorder stores a document's title and status. *docstore.Store
// implements it.
type Recorder interface {
	Upsert(ctx context.Context, id, title, status string) error
}

// Publisher coordinates document bookkeeping and Kafka event production.
type Publisher struct {
	store     Recorder
	producer  kafka.Publisher
	numShards int
	logger    *slog.Logger
}

// New creates a Publisher. store may be nil, in which case documents are
// only published.
func New(store Recorder, producer kafka.Publisher, numShards int) *Publisher {
	return &Publisher{
		store:     store,
		producer:  producer,
		numShards: numShards,
		logger:    slog.Default().With("component", "publisher"),
	}
}

// Ingest records the document as pending and publishes it for indexing.
// The event is keyed by document id so every version of a document lands
// on the same partition in order.
func (p *Publisher) Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	docID := req.ID
	if docID == "" {
		docID = contentID(req)
	}
	if p.store != nil {
		if err := p.store.Upsert(ctx, docID, req.Title, docstore.StatusPending); err != nil {
			return nil, fmt.Errorf("recording document: %w", err)
		}
	}

	event := proto.IngestEvent{
		DocumentID: docID,
		Title:      req.Title,
		Body:       req.Body,
		Fields:     req.Fields,
		IngestedAt: time.Now().UTC(),
	}
	err := resilience.Retry(ctx, "publish ingest event", resilience.Backoff{Attempts: 3}, func(ctx context.Context) error {
		return p.producer.Publish(ctx, docID, event)
	})
	if err != nil {
		return nil, fmt.Errorf("publishing document %s: %w", docID, err)
	}
	return &ingestion.IngestResponse{
		DocumentID: docID,
		Status:     docstore.StatusPending,
		ShardID:    shard.ShardFor(docID, p.numShards),
	}, nil
}

// contentID hashes the indexable content of req.
func contentID(req *ingestion.IngestRequest) string {
	h := sha256.New()
	if len(req.Fields) > 0 {
		for _, name := range slices.Sorted(maps.Keys(req.Fields)) {
			fmt.Fprintf(h, "%s\x00%s\x00", name, req.Fields[name])
		}
	} else {
		fmt.Fprintf(h, "title\x00%s\x00body\x00%s\x00", req.Title, req.Body)
	}
	return "doc-" + hex.EncodeToString(h.Sum(nil)[:12])
}
