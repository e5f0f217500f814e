package templates

import (
	"context"
	"sync"
)

type cacheKey struct {
	container string
	name      string
}

// Cache is a process-lifetime, unbounded template body cache keyed by (container, name).
// It is shared by every worker in the process.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]string)}
}

func (c *Cache) Get(container, name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	body, ok := c.entries[cacheKey{container: container, name: name}]
	return body, ok
}

// GetOrPopulate returns the cached body or calls fetch and stores its result.
// The bool result reports a cache hit. A failed fetch leaves the cache untouched.
// Concurrent misses for the same key may each fetch; the stored body is the same.
func (c *Cache) GetOrPopulate(
	ctx context.Context,
	container, name string,
	fetch func(ctx context.Context) (string, error),
) (string, bool, error) {
	if body, ok := c.Get(container, name); ok {
		return body, true, nil
	}

	body, err := fetch(ctx)
	if err != nil {
		return "", false, err
	}

	c.mu.Lock()
	c.entries[cacheKey{container: container, name: name}] = body
	c.mu.Unlock()

	return body, false, nil
}

// Clear drops every entry and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[cacheKey]string)
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
