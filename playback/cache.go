package playback

import "container/list"

// lruCache is a fixed-capacity least-recently-used cache keyed by logical
// frame index. Not safe for concurrent use; the Index serializes access.
type lruCache struct {
	capacity int
	order    *list.List // front = most recent
	items    map[int]*list.Element
}

type lruEntry struct {
	key   int
	frame *MaterializedFrame
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[int]*list.Element, capacity),
	}
}

// get returns the cached frame and marks it most recently used.
func (c *lruCache) get(key int) (*MaterializedFrame, bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).frame, true
}

// add inserts a frame, evicting the least-recently-used entry when at
// capacity. Returns whether an eviction happened.
func (c *lruCache) add(key int, frame *MaterializedFrame) bool {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*lruEntry).frame = frame
		c.order.MoveToFront(elem)
		return false
	}

	evicted := false
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
			evicted = true
		}
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, frame: frame})
	return evicted
}

// purge drops all entries.
func (c *lruCache) purge() {
	c.order.Init()
	clear(c.items)
}

// len returns the current entry count.
func (c *lruCache) len() int {
	return c.order.Len()
}
