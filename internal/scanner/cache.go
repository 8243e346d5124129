package scanner

import (
	"sync"
	"time"
)

type cacheKey struct {
	path  string
	mtime int64 // UnixNano
	size  int64
}

// hashCache memoizes content hashes keyed by (path, mtime, size).
// A touched file gets a new key, so stale entries are never returned;
// they are dropped lazily when the path is rehashed.
type hashCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry // by path
}

type cacheEntry struct {
	key  cacheKey
	hash string
}

func newHashCache() *hashCache {
	return &hashCache{entries: make(map[string]cacheEntry)}
}

func (c *hashCache) get(path string, mtime time.Time, size int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		return "", false
	}
	if e.key != (cacheKey{path: path, mtime: mtime.UnixNano(), size: size}) {
		return "", false
	}
	return e.hash, true
}

func (c *hashCache) put(path string, mtime time.Time, size int64, hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{
		key:  cacheKey{path: path, mtime: mtime.UnixNano(), size: size},
		hash: hash,
	}
}
