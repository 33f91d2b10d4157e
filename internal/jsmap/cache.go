package jsmap

import (
	"sync"

	"github.com/conneroisu/aemfed/internal/sourceref"
)

// Cache is a concurrency-safe map keyed by normalised path, so lookups and
// invalidations agree regardless of leading slashes, separators or case.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// NewCache creates an empty cache.
func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

// Get returns the value stored for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[sourceref.NormalizePath(key)]
	return v, ok
}

// Set stores v under key, replacing any previous value.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	c.entries[sourceref.NormalizePath(key)] = v
	c.mu.Unlock()
}

// Invalidate removes the given keys.
func (c *Cache[V]) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, sourceref.NormalizePath(k))
	}
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]V)
	c.mu.Unlock()
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
