package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"gopilot/internal/cache"
)

// Service fronts the document store with a retrieved-context cache. The
// cache is best-effort: a cache failure degrades to a store search, never to
// a request failure.
type Service struct {
	store  Store
	cache  cache.Cache
	logger *slog.Logger
}

// NewService creates a retrieval service. c may be nil to disable caching;
// logger may be nil.
func NewService(store Store, c cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: c, logger: logger}
}

// Ingest stores a document.
func (s *Service) Ingest(ctx context.Context, doc *Document) error {
	return s.store.Ingest(ctx, doc)
}

// Remember ingests free-text content under a source label so later
// retrievals can rank it. Blank content is dropped without touching the
// store.
func (s *Service) Remember(ctx context.Context, repoURL, source, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return s.store.Ingest(ctx, &Document{
		RepoURL: repoURL,
		Source:  source,
		Content: content,
	})
}

// Retrieve returns ranked context snippets for the query, consulting the
// cache before the store.
func (s *Service) Retrieve(ctx context.Context, repoURL, query string, limit int) ([]cache.Snippet, error) {
	key := cacheKey(repoURL, query)

	if s.cache != nil {
		entry, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("context cache get failed", "error", err)
		} else if entry != nil {
			return entry.Snippets, nil
		}
	}

	results, err := s.store.Search(ctx, repoURL, query, limit)
	if err != nil {
		return nil, err
	}

	snippets := make([]cache.Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, cache.Snippet{
			Source:  r.Source,
			Content: r.Content,
			Rank:    r.Rank,
		})
	}

	if s.cache != nil {
		entry := &cache.Entry{Query: query, CreatedAt: time.Now().UTC(), Snippets: snippets}
		if err := s.cache.Set(ctx, key, entry); err != nil {
			s.logger.Warn("context cache set failed", "error", err)
		}
	}
	return snippets, nil
}

// cacheKey derives a stable key from the repo and query. The NUL separator
// keeps ("ab","c") and ("a","bc") from colliding.
func cacheKey(repoURL, query string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(repoURL+"\x00"+query))
}
