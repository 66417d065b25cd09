package cache

import (
	"context"
	"sync"

	"github.com/smsflow/smsflow/internal/core/domain"
)

// MemoryCache implements Cache in process memory, with the same
// first-writer-wins rule as the Redis backend. Used in tests and in
// memory-storage mode.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]domain.Verdict
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]domain.Verdict)}
}

// Lookup returns the cached verdict for a fingerprint, if any.
func (c *MemoryCache) Lookup(ctx context.Context, fingerprint string) (domain.Verdict, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[fingerprint]
	return v, ok, nil
}

// Store records a verdict unless one already exists for the key.
func (c *MemoryCache) Store(ctx context.Context, fingerprint string, verdict domain.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[fingerprint]; ok {
		return nil
	}
	c.entries[fingerprint] = verdict
	return nil
}

// Size returns the number of cached fingerprints. Test helper.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
