package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry, name string) []*dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()
		}
	}
	return nil
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.CacheHitsTotal.Inc()
	m.SearchQueriesTotal.WithLabelValues("miss").Add(2)
	m.ShardDocCount.WithLabelValues("0").Set(42)

	hits := gathered(t, reg, "cache_hits_total")
	require.Len(t, hits, 1)
	assert.Equal(t, 1.0, hits[0].GetCounter().GetValue())

	queries := gathered(t, reg, "search_queries_total")
	require.Len(t, queries, 1)
	assert.Equal(t, 2.0, queries[0].GetCounter().GetValue())
	assert.Equal(t, "miss", queries[0].GetLabel()[0].GetValue())

	docs := gathered(t, reg, "shard_document_count")
	require.Len(t, docs, 1)
	assert.Equal(t, 42.0, docs[0].GetGauge().GetValue())

	assert.Panics(t, func() { NewWithRegistry(reg) })
}
