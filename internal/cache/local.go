package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LocalCache implements Cache using one file per key under a directory.
// This is suitable for single-instance deployments.
type LocalCache struct {
	mu  sync.RWMutex
	dir string
	ttl time.Duration
}

// NewLocalCache creates a new local file-based cache rooted at dir. Entries
// older than ttl are treated as misses; ttl <= 0 disables expiry.
func NewLocalCache(dir string, ttl time.Duration) *LocalCache {
	return &LocalCache{
		dir: dir,
		ttl: ttl,
	}
}

// Get retrieves the entry for key from its file.
func (c *LocalCache) Get(ctx context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.dir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No cache file yet, not an error
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}

	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		return nil, nil
	}

	return &entry, nil
}

// Set stores the entry for key to its file.
func (c *LocalCache) Set(ctx context.Context, key string, entry *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir == "" {
		return nil
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	// Write atomically using temp file + rename
	target := c.path(key)
	tmpFile := target + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, target); err != nil {
		os.Remove(tmpFile) // Clean up temp file
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}

func (c *LocalCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
