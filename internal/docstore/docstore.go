// Package docstore keeps the documents table in step with the index: the
// indexer records each document's title and indexing status, and the
// searcher reads titles back to decorate results.
package docstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Document statuses.
const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert records a document's title and status, creating the row when
// ingestion did not.
func (s *Store) Upsert(ctx context.Context, id, title, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, status, indexed_at)
		VALUES ($1, $2, $3, CASE WHEN $3::text = 'INDEXED' THEN NOW() END)
		ON CONFLICT (id) DO UPDATE
		SET title = CASE WHEN EXCLUDED.title = '' THEN documents.title ELSE EXCLUDED.title END,
		    status = EXCLUDED.status,
		    indexed_at = EXCLUDED.indexed_at`,
		id, title, status,
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", id, err)
	}
	return nil
}

// Titles returns the titles of the given documents. Unknown ids are absent
// from the map.
func (s *Store) Titles(ctx context.Context, ids []string) (map[string]string, error) {
	titles := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM documents WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("querying titles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scanning title row: %w", err)
		}
		titles[id] = title
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating title rows: %w", err)
	}
	return titles, nil
}

// Status returns a document's status, or sql.ErrNoRows when it is unknown.
func (s *Store) Status(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("reading status of %s: %w", id, err)
	}
	return status, nil
}
