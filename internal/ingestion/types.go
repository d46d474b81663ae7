// Package ingestion defines the request/response types of the document
// ingestion endpoint, which records documents and hands them to the
// indexer over Kafka.
package ingestion

// IngestRequest is the JSON body accepted by POST /api/v1/documents. When
// Fields is set it is indexed as-is and Title/Body are ignored for
// indexing. ID is optional; without one the id is derived from the
// content, so re-submitting identical content replaces the same document.
type IngestRequest struct {
	ID     string            `json:"id,omitempty"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Fields map[string]string `json:"fields,omitempty"`
}

// IngestResponse is returned to the caller after a document is accepted.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	ShardID    int    `json:"shard_id"`
}

// StatusResponse reports where a document is in the indexing pipeline.
type StatusResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}
