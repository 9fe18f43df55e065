package catalog

import (
	"sync"
	"time"

	"coursecast/internal/db"
)

type cacheEntry struct {
	videos    []db.Video
	expiresAt time.Time
}

type cacheStore struct {
	mu    sync.Mutex
	items map[string]cacheEntry
}

func newCache() *cacheStore {
	return &cacheStore{items: make(map[string]cacheEntry)}
}

func (c *cacheStore) Get(key string, now time.Time) ([]db.Video, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
		delete(c.items, key)
		return nil, false
	}
	out := make([]db.Video, len(entry.videos))
	copy(out, entry.videos)
	return out, true
}

func (c *cacheStore) Set(key string, videos []db.Video, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	out := make([]db.Video, len(videos))
	copy(out, videos)
	c.mu.Lock()
	c.items[key] = cacheEntry{
		videos:    out,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
}

func (c *cacheStore) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
