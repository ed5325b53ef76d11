package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cloo-solutions/codelens/internal/domain"
)

const (
	defaultCacheMaxEntries = 8
	defaultCacheTTL        = 5 * time.Minute
)

type cacheEntry struct {
	files    []*domain.CodebaseFile
	storedAt time.Time
}

// ContextCache keeps the file listing of recently assembled scopes. It is a
// convenience over the codebase store, never the system of record: entries
// expire after the TTL and the oldest entry is evicted once MaxEntries is
// exceeded.
type ContextCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	entries    map[string]cacheEntry
	order      []string
	loads      singleflight.Group
}

// NewContextCache creates a cache. Non-positive arguments select the
// defaults (8 entries, 5 minutes).
func NewContextCache(maxEntries int, ttl time.Duration) *ContextCache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &ContextCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// Get returns the cached files of a scope if present and fresh.
func (c *ContextCache) Get(scopeID string) ([]*domain.CodebaseFile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[scopeID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.remove(scopeID)
		return nil, false
	}
	return e.files, true
}

// Put stores the files of a scope, evicting the oldest entries when full.
func (c *ContextCache) Put(scopeID string, files []*domain.CodebaseFile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[scopeID]; ok {
		c.remove(scopeID)
	}
	c.entries[scopeID] = cacheEntry{files: files, storedAt: c.now()}
	c.order = append(c.order, scopeID)

	for len(c.order) > c.maxEntries {
		c.remove(c.order[0])
	}
}

// Files returns the cached listing of scopeID or loads and caches it.
// Concurrent misses on one scope share a single load.
func (c *ContextCache) Files(ctx context.Context, scopeID string, load func(context.Context) ([]*domain.CodebaseFile, error)) ([]*domain.CodebaseFile, error) {
	if files, ok := c.Get(scopeID); ok {
		return files, nil
	}
	v, err, _ := c.loads.Do(scopeID, func() (any, error) {
		if files, ok := c.Get(scopeID); ok {
			return files, nil
		}
		files, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(scopeID, files)
		return files, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.CodebaseFile), nil
}

// Invalidate drops the entry of one scope.
func (c *ContextCache) Invalidate(scopeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(scopeID)
}

// Clear drops every entry.
func (c *ContextCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.order = nil
}

// Len returns the number of entries, fresh or not.
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ContextCache) remove(scopeID string) {
	delete(c.entries, scopeID)
	for i, id := range c.order {
		if id == scopeID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
