// Package memory persists repository documents and retrieves ranked context
// for agent queries.
package memory

import (
	"context"
	"time"
)

// Document is one ingested piece of repository knowledge.
type Document struct {
	ID        string    `json:"id"`
	RepoURL   string    `json:"repo_url"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is a document matched by a search, with its relevance rank.
type Result struct {
	Document
	Rank float64 `json:"rank"`
}

// Store is the persistence interface for documents.
type Store interface {
	// Ingest stores a document. An empty ID is assigned on insert.
	Ingest(ctx context.Context, doc *Document) error

	// Search returns up to limit documents ranked by relevance to query.
	// An empty repoURL searches across all repositories.
	Search(ctx context.Context, repoURL, query string, limit int) ([]Result, error)

	// Close releases the underlying connections.
	Close()
}
