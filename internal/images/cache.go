// Package images resolves attachment tokens into durable object-storage
// URLs, with a shared cache so re-syncs skip downloads for stable assets.
package images

import (
	"context"
	"sync"
)

// CachedImage is one resolved token: the durable URL it maps to and the
// content hash of the uploaded bytes.
type CachedImage struct {
	Token       string
	PublicURL   string
	ContentHash string
}

// Cache is the shared, append-only token cache. Implementations must be
// safe for concurrent use; Put for an existing token is a no-op overwrite
// with identical data, never an error.
type Cache interface {
	Get(ctx context.Context, token string) (CachedImage, bool, error)
	Put(ctx context.Context, entry CachedImage) error
}

// MemoryCache is a process-lifetime Cache. Suitable on its own for tests
// and as a read-through layer in front of a persistent cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]CachedImage
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CachedImage)}
}

func (c *MemoryCache) Get(_ context.Context, token string) (CachedImage, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[token]
	return entry, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, entry CachedImage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Token] = entry
	return nil
}

// Len returns the number of cached tokens.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
