package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup; it is idempotent. Full-text search runs over
// a generated tsvector column so ranking happens inside Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS memory_documents (
	id         UUID PRIMARY KEY,
	repo_url   TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	tsv        TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);
CREATE INDEX IF NOT EXISTS memory_documents_tsv_idx ON memory_documents USING GIN (tsv);
CREATE INDEX IF NOT EXISTS memory_documents_repo_idx ON memory_documents (repo_url);
`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database, verifies the connection and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Ingest stores a document, assigning an ID and timestamp when absent.
func (s *PostgresStore) Ingest(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_documents (id, repo_url, source, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.RepoURL, doc.Source, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Search ranks documents against query with websearch syntax ("quoted
// phrases", OR, -excluded) and returns the top matches.
func (s *PostgresStore) Search(ctx context.Context, repoURL, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, repo_url, source, content, created_at,
		        ts_rank(tsv, websearch_to_tsquery('english', $1)) AS rank
		 FROM memory_documents
		 WHERE tsv @@ websearch_to_tsquery('english', $1)
		   AND ($2 = '' OR repo_url = $2)
		 ORDER BY rank DESC
		 LIMIT $3`,
		query, repoURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.RepoURL, &r.Source, &r.Content, &r.CreatedAt, &r.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return results, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
