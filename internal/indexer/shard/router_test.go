package shard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/config"
)

func testConfig(dir string, shards int) config.IndexerConfig {
	return config.IndexerConfig{
		DataDir:        dir,
		NumShards:      shards,
		SegmentMaxSize: 1 << 30,
		FlushInterval:  time.Hour,
	}
}

func TestShardFor_StableAndInRange(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("doc-%d", i)
		s := ShardFor(id, 4)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 4)
		assert.Equal(t, s, ShardFor(id, 4))
		seen[s] = true
	}
	assert.Len(t, seen, 4)
}

func TestRouter_IndexFlushReload(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewRouter(testConfig(dir, 3))
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewRouter(testConfig(dir, 3))
	require.NoError(t, err)
	defer reader.Close()

	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("doc-%d", i)
		shardID, engine := writer.EngineFor(id)
		assert.Equal(t, ShardFor(id, 3), shardID)
		_, err := engine.IndexDocument(id, map[string]string{"body": "fox"})
		require.NoError(t, err)
	}
	require.NoError(t, writer.FlushAll())
	assert.Equal(t, 3, reader.ReloadAll())

	total := 0
	for _, engine := range reader.Engines() {
		total += engine.DocCount()
	}
	assert.Equal(t, 30, total)

	_, err = reader.Route(3)
	assert.Error(t, err)
	_, err = NewRouter(testConfig(dir, 0))
	assert.Error(t, err)
}
