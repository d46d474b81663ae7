package publisher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/proto"
)

type fakeStore struct {
	rows map[string]string
	err  error
}

func (f *fakeStore) Upsert(_ context.Context, id, title, status string) error {
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = make(map[string]string)
	}
	f.rows[id] = title + "/" + status
	return nil
}

type fakeProducer struct {
	keys   []string
	events []proto.IngestEvent
	fails  int
}

func (f *fakeProducer) Publish(_ context.Context, key string, value any) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("broker unavailable")
	}
	f.keys = append(f.keys, key)
	f.events = append(f.events, value.(proto.IngestEvent))
	return nil
}

func TestIngest_ContentDerivedID(t *testing.T) {
	store, producer := &fakeStore{}, &fakeProducer{fails: 1}
	p := New(store, producer, 4)
	req := &ingestion.IngestRequest{Title: "Quick fox", Body: "lazy dog"}

	resp, err := p.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Regexp(t, `^doc-[0-9a-f]{24}$`, resp.DocumentID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, shard.ShardFor(resp.DocumentID, 4), resp.ShardID)
	assert.Equal(t, "Quick fox/PENDING", store.rows[resp.DocumentID])
	require.Len(t, producer.events, 1)
	assert.Equal(t, resp.DocumentID, producer.keys[0])
	assert.Equal(t, "lazy dog", producer.events[0].Body)

	again, err := p.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, resp.DocumentID, again.DocumentID)

	other, err := p.Ingest(context.Background(), &ingestion.IngestRequest{Title: "Quick fox", Body: "lazy cat"})
	require.NoError(t, err)
	assert.NotEqual(t, resp.DocumentID, other.DocumentID)
}

func TestIngest_ExplicitIDAndNoStore(t *testing.T) {
	producer := &fakeProducer{}
	p := New(nil, producer, 2)
	resp, err := p.Ingest(context.Background(), &ingestion.IngestRequest{ID: "article-7", Fields: map[string]string{"summary": "fox"}})
	require.NoError(t, err)
	assert.Equal(t, "article-7", resp.DocumentID)
	assert.Equal(t, map[string]string{"summary": "fox"}, producer.events[0].Fields)
}

func TestIngest_Failures(t *testing.T) {
	_, err := New(&fakeStore{err: errors.New("db down")}, &fakeProducer{}, 2).
		Ingest(context.Background(), &ingestion.IngestRequest{Body: "fox"})
	assert.ErrorContains(t, err, "recording document")

	_, err = New(nil, &fakeProducer{fails: 10}, 2).
		Ingest(context.Background(), &ingestion.IngestRequest{Body: "fox"})
	assert.ErrorContains(t, err, "publishing document")
}
