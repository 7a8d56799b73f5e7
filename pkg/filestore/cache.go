package filestore

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cache is the in-memory document cache. Entries are only ever removed or
// fully replaced; a present entry always equals the last committed
// on-disk value at the time it was populated. The LRU bound keeps memory
// flat regardless of project count; eviction is indistinguishable from
// invalidation to readers.
type cache struct {
	lru *lru.Cache[string, []byte]
}

func newCache(maxEntries int) (*cache, error) {
	c, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, err
	}
	return &cache{lru: c}, nil
}

func (c *cache) get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *cache) put(key string, value []byte) {
	c.lru.Add(key, value)
}

// invalidate removes a single entry. Called twice per write: once before
// the durable write begins and once after the rename commits, so a reader
// that repopulated the entry mid-write cannot leave a stale value behind.
func (c *cache) invalidate(key string) {
	c.lru.Remove(key)
}

// invalidateProject removes every entry belonging to a project.
func (c *cache) invalidateProject(projectID string) {
	prefix := projectID + "/"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func (c *cache) len() int {
	return c.lru.Len()
}
