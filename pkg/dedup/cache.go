package dedup

import "sync"

const DefaultCapacity = 32

// Cache is a capacity-bounded set of opportunity identifiers.
//
// It is NOT an LRU. When an insert finds the cache full, the older half of the
// insertion-ordered contents is dropped in one step and only the newer half is
// kept. Lookups never refresh an entry's position. Forgetting an id early is
// acceptable: the order lifecycle store is the authoritative guard and this
// cache is only a fast-path filter in front of it.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []string // insertion order, oldest first
	index    map[string]struct{}
}

// New creates a cache bounded to capacity entries (DefaultCapacity if <= 0)
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		index:    make(map[string]struct{}, capacity),
	}
}

func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

// Add inserts id. Adding an id that is already present is a no-op.
func (c *Cache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(id)
}

// CheckAndAdd inserts id and returns true iff it was absent.
func (c *Cache) CheckAndAdd(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[id]; ok {
		return false
	}
	c.insertLocked(id)
	return true
}

// Cleanup clears the cache if it somehow grew past capacity.
// Returns true if anything was cleared.
func (c *Cache) Cleanup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) <= c.capacity {
		return false
	}
	c.order = c.order[:0]
	c.index = make(map[string]struct{}, c.capacity)
	return true
}

// Reset drops every entry
func (c *Cache) Reset() {
	c.mu.Lock()
	c.order = c.order[:0]
	c.index = make(map[string]struct{}, c.capacity)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func (c *Cache) Cap() int { return c.capacity }

func (c *Cache) insertLocked(id string) {
	if _, ok := c.index[id]; ok {
		return
	}
	if len(c.order) >= c.capacity {
		c.evictOlderHalfLocked()
	}
	c.order = append(c.order, id)
	c.index[id] = struct{}{}
}

// evictOlderHalfLocked keeps entries from floor(len/2) onward. A capacity of
// one has no half to keep and is cleared outright.
func (c *Cache) evictOlderHalfLocked() {
	start := len(c.order) / 2
	if len(c.order)-start >= c.capacity {
		start = len(c.order)
	}
	keep := c.order[start:]
	order := make([]string, len(keep), c.capacity)
	copy(order, keep)

	index := make(map[string]struct{}, c.capacity)
	for _, id := range order {
		index[id] = struct{}{}
	}
	c.order = order
	c.index = index
}
