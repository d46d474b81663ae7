// Package reload keeps a searcher in step with the indexer: every
// index.complete event makes all shards pick up new segments and drops
// cached responses computed against the old ones.
package reload

import (
	"context"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
)

// Reloader loads segments written since the last reload and reports how
// many it loaded. *shard.Router implements it.
type Reloader interface {
	ReloadAll() int
}

// Invalidator drops cached search responses. *cache.QueryCache implements
// it.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// HandleIndexComplete returns a MessageHandler for index.complete events.
// cache and m may be nil. Segment loading is idempotent, so duplicate or
// reordered events are harmless.
func HandleIndexComplete(shards Reloader, cache Invalidator, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "segment-reloader")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[proto.IndexCompleteEvent](value)
		if err != nil {
			logger.Error("failed to decode index.complete event", "error", err, "key", string(key))
			return kafka.ErrSkip
		}
		loaded := shards.ReloadAll()
		if m != nil {
			m.SegmentReloadsTotal.Add(float64(loaded))
		}
		if loaded > 0 && cache != nil {
			if _, err := cache.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation after reload failed", "error", err)
			}
		}
		logger.Info("segments reloaded",
			"shard_id", event.ShardID,
			"segment", event.Segment,
			"loaded", loaded,
		)
		return nil
	}
}
