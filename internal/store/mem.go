package store

import "sync"

const defaultMemEntries = 32

// memCache keeps recently served committed blobs in memory so repeat
// cache hits skip the disk read. Bounded by entry count; eviction picks
// an arbitrary entry. Entries are copied in and out, so callers may
// mutate what they pass or receive.
type memCache struct {
	maxEntries int
	mu         sync.RWMutex
	items      map[string][]byte
}

func newMemCache(maxEntries int) *memCache {
	return &memCache{
		maxEntries: maxEntries,
		items:      make(map[string][]byte),
	}
}

func (c *memCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

func (c *memCache) add(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.maxEntries {
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	c.items[key] = append([]byte(nil), data...)
}

func (c *memCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
