// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"grimm.is/k2rule/rule"
)

// resultCache is a small, capacity-bounded, exact-LRU cache keyed by a
// 64-bit hash of the lowercased query; values are an optional
// rule.Target (a "no match" result is cacheable). Eviction is via
// container/list. A single mutex is enough at this capacity, and it
// keeps clear-on-reload one uncontended operation rather than several
// shard clears.
type resultCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[uint64]*list.Element
	order    *list.List

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key    uint64
	target rule.Target
	found  bool
}

// newResultCache builds a cache with the given capacity. Capacity 0
// disables caching entirely: get always misses and set is a no-op, so
// every query goes straight to the underlying reader.
func newResultCache(capacity int) *resultCache {
	return &resultCache{
		capacity: capacity,
		items:    make(map[uint64]*list.Element, capacity),
		order:    list.New(),
	}
}

// hashQuery computes the cache key: xxhash of the lowercased query.
// The scheme is identical for domain and IP-literal queries -- the
// caller lowercases once and passes the same string shape that was
// looked up.
func hashQuery(lowered string) uint64 {
	return xxhash.Sum64String(lowered)
}

func (c *resultCache) get(key uint64) (rule.Target, bool, bool) {
	if c.capacity == 0 {
		return 0, false, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return 0, false, false
	}
	c.order.MoveToFront(el)
	c.hits++
	e := el.Value.(*cacheEntry)
	return e.target, e.found, true
}

func (c *resultCache) set(key uint64, target rule.Target, found bool) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).target = target
		el.Value.(*cacheEntry).found = found
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.capacity {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*cacheEntry).key)
		}
	}

	el := c.order.PushFront(&cacheEntry{key: key, target: target, found: found})
	c.items[key] = el
}

// clear unconditionally drops every entry. Called inside the same
// critical section that installs a new reader snapshot so no query
// can observe a cached Target derived from a reader other than the
// one it just loaded.
func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint64]*list.Element, c.capacity)
	c.order = list.New()
	c.hits = 0
	c.misses = 0
}

// Stats reports cache occupancy and hit/miss counters, exposed as
// CachedReader.CacheStats.
type Stats struct {
	Len      int
	Capacity int
	Hits     uint64
	Misses   uint64
}

func (c *resultCache) stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Len:      len(c.items),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
