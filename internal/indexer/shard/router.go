// Package shard partitions documents across independent index engines.
// Each shard owns an indexer.Engine in its own data directory; documents
// are assigned to shards by hashing their id, so indexer and searcher
// processes agree on placement without coordination.
package shard

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
)

// Router maps shard IDs to dedicated engines. The set of engines is fixed
// at construction.
type Router struct {
	engines []*indexer.Engine
	logger  *slog.Logger
}

// NewRouter opens cfg.NumShards engines under cfg.DataDir/shard-<i>.
func NewRouter(cfg config.IndexerConfig) (*Router, error) {
	if cfg.NumShards <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", cfg.NumShards)
	}
	r := &Router{
		engines: make([]*indexer.Engine, 0, cfg.NumShards),
		logger:  slog.Default().With("component", "shard-router"),
	}
	for i := 0; i < cfg.NumShards; i++ {
		shardCfg := cfg
		shardCfg.DataDir = ShardDir(cfg.DataDir, i)
		engine, err := indexer.NewEngine(shardCfg)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("creating engine for shard %d: %w", i, err)
		}
		r.engines = append(r.engines, engine)
		r.logger.Info("shard engine initialized",
			"shard_id", i,
			"data_dir", shardCfg.DataDir,
			"docs", engine.DocCount(),
		)
	}
	r.logger.Info("shard router ready", "num_shards", cfg.NumShards)
	return r, nil
}

// ShardDir returns the data directory of shard i.
func ShardDir(dataDir string, i int) string {
	return filepath.Join(dataDir, fmt.Sprintf("shard-%d", i))
}

// ShardFor returns the shard a document id belongs to.
func ShardFor(docID string, numShards int) int {
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32() % uint32(numShards))
}

// EngineFor returns the shard ID and engine responsible for docID.
func (r *Router) EngineFor(docID string) (int, *indexer.Engine) {
	id := ShardFor(docID, len(r.engines))
	return id, r.engines[id]
}

// Route returns the Engine responsible for the given shard ID.
func (r *Router) Route(shardID int) (*indexer.Engine, error) {
	if shardID < 0 || shardID >= len(r.engines) {
		return nil, fmt.Errorf("unknown shard ID %d (valid range: 0-%d)", shardID, len(r.engines)-1)
	}
	return r.engines[shardID], nil
}

// Engines returns the engines indexed by shard ID.
func (r *Router) Engines() []*indexer.Engine {
	out := make([]*indexer.Engine, len(r.engines))
	copy(out, r.engines)
	return out
}

func (r *Router) NumShards() int {
	return len(r.engines)
}

// FlushAll flushes every shard engine to disk and returns the first error.
func (r *Router) FlushAll() error {
	var firstErr error
	for id, engine := range r.engines {
		if err := engine.Flush(); err != nil {
			r.logger.Error("flush failed", "shard_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ReloadAll tells every shard engine to pick up newly flushed segments and
// returns the number loaded.
func (r *Router) ReloadAll() int {
	total := 0
	for _, engine := range r.engines {
		total += engine.ReloadSegments()
	}
	return total
}

// Close flushes and closes every shard engine and returns the first error.
func (r *Router) Close() error {
	var firstErr error
	for id, engine := range r.engines {
		if err := engine.Close(); err != nil {
			r.logger.Error("close failed", "shard_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
