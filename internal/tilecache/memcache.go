package tilecache

import (
	"container/list"
	"sync"

	"github.com/relief-data/terrain.report/internal/terrain"
)

// MemCache is the in-process tier: a bounded LRU of resolved tiles.
// Keys embed the layer revision, so bumping a layer's revision
// naturally orphans its stale entries instead of requiring a sweep.
// Safe for concurrent use.
type MemCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type memEntry struct {
	key   string
	value terrain.GeoHeightfield
}

// NewMemCache creates a cache holding at most max tiles. max <= 0
// disables the cache (every lookup misses, every write is dropped).
func NewMemCache(max int) *MemCache {
	return &MemCache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the cached tile for key, if present.
func (c *MemCache) Get(key string) (terrain.GeoHeightfield, bool) {
	if c == nil || c.max <= 0 {
		return terrain.GeoHeightfield{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return terrain.GeoHeightfield{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*memEntry).value, true
}

// Put stores a tile, evicting the least recently used entry when full.
func (c *MemCache) Put(key string, value terrain.GeoHeightfield) {
	if c == nil || c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*memEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&memEntry{key: key, value: value})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memEntry).key)
	}
}

// Len returns the number of cached tiles.
func (c *MemCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
