// Package consumer drives the indexing pipeline from Kafka: ingest events
// are routed to their shard and indexed, and every segment flush is
// announced on the index.complete topic so searchers reload.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/resilience"
)

// HandleIngest returns a MessageHandler that indexes each ingest event into
// the shard owning its document id. store and m may be nil. When store is
// set the document's title and status are recorded after indexing.
func HandleIngest(router *shard.Router, store *docstore.Store, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[proto.IngestEvent](value)
		if err != nil {
			logger.Error("failed to decode ingest event", "error", err, "key", string(key))
			return kafka.ErrSkip
		}
		fields := event.IndexFields()
		if event.DocumentID == "" || len(fields) == 0 {
			logger.Warn("dropping empty ingest event", "key", string(key))
			return kafka.ErrSkip
		}

		at := event.IngestedAt
		if at.IsZero() {
			at = time.Now()
		}
		shardID, engine := router.EngineFor(event.DocumentID)
		doc, err := engine.IndexDocumentAt(event.DocumentID, fields, at)
		if err != nil {
			recordStatus(ctx, store, event, fields, docstore.StatusFailed, logger)
			return fmt.Errorf("indexing document %s in shard %d: %w", event.DocumentID, shardID, err)
		}
		recordStatus(ctx, store, event, fields, docstore.StatusIndexed, logger)
		if m != nil {
			m.DocsIndexedTotal.Inc()
			m.ShardDocCount.WithLabelValues(strconv.Itoa(shardID)).Set(float64(engine.DocCount()))
		}
		logger.Debug("document indexed",
			"doc_id", event.DocumentID,
			"shard_id", shardID,
			"ordinal", doc,
		)
		return nil
	}
}

// AnnounceFlushes makes every shard engine publish an IndexCompleteEvent
// after it flushes a segment. Publishing is retried; a failure is logged
// and the next flush announces again, since searchers reload every new
// segment on any event.
func AnnounceFlushes(router *shard.Router, pub kafka.Publisher, m *metrics.Metrics) {
	logger := slog.Default().With("component", "flush-announcer")
	for shardID, engine := range router.Engines() {
		engine.OnFlush(func(segment string, docs int) {
			if m != nil {
				m.IndexFlushesTotal.WithLabelValues("ok").Inc()
			}
			event := proto.IndexCompleteEvent{
				ShardID:   shardID,
				Segment:   segment,
				DocCount:  docs,
				FlushedAt: time.Now().UTC(),
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := resilience.Retry(ctx, "publish index.complete", resilience.Backoff{Attempts: 3}, func(ctx context.Context) error {
				return pub.Publish(ctx, strconv.Itoa(shardID), event)
			})
			if err != nil {
				logger.Error("failed to announce flush", "shard_id", shardID, "segment", segment, "error", err)
				return
			}
			logger.Info("flush announced", "shard_id", shardID, "segment", segment, "docs", docs)
		})
	}
}

// recordStatus stores the document's title and status. It is a no-op when
// store is nil; failures are logged since the index is the source of truth.
func recordStatus(ctx context.Context, store *docstore.Store, event proto.IngestEvent, fields map[string]string, status string, logger *slog.Logger) {
	if store == nil {
		return
	}
	title := event.Title
	if title == "" {
		title = fields["title"]
	}
	if err := store.Upsert(ctx, event.DocumentID, title, status); err != nil {
		logger.Error("failed to record document status",
			"doc_id", event.DocumentID,
			"status", status,
			"error", err,
		)
	}
}
