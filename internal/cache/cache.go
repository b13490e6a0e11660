// Package cache provides a cache abstraction for retrieved memory context.
// Supports both local (file) and Redis backends for multi-instance
// deployments.
package cache

import (
	"context"
	"time"
)

// Entry is one cached retrieval result: the context snippets assembled for a
// query, with enough metadata to judge freshness.
type Entry struct {
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
	Snippets  []Snippet `json:"snippets"`
}

// Snippet is a single piece of retrieved context.
type Snippet struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Rank    float64 `json:"rank"`
}

// Cache defines the interface for retrieved-context storage. Keys are opaque
// strings computed by the caller (a hash of the normalized query).
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the entry for key.
	// Returns nil, nil on a miss or when the entry has expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry under key.
	Set(ctx context.Context, key string, entry *Entry) error

	// Close releases any resources held by the cache.
	Close() error
}
