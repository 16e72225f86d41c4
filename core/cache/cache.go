/*
Package cache provides a small in-memory TTL cache for query results.

The cache favors correctness over throughput: entries expire after a fixed
TTL, the entry count is bounded with insertion-order eviction, and any write
to a table blows away the table's entire key namespace via substring
invalidation. There is no per-key locking, so concurrent misses for the same
key all hit the backend.
*/
package cache

import (
	"strings"
	"sync"
	"time"
)

// defaults chosen for admin-dashboard style read patterns
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100
)

type entry struct {
	value      interface{}
	insertedAt time.Time
}

// Stats counts cache activity since construction.
type Stats struct {
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
	Size      int `json:"size"`
}

// Cache is a bounded key-value cache with TTL expiry. Keys follow the
// "table:operation:signature" convention so that a single substring
// invalidation can clear everything cached for one table.
type Cache struct {
	ttl        time.Duration
	maxEntries int

	mutex   sync.Mutex
	entries map[string]entry
	// order tracks insertion order for eviction. This is deliberately not
	// access-order LRU: a re-set key keeps its original position.
	order []string
	stats Stats
	now   func() time.Time
}

// New creates a cache. Non-positive ttl or maxEntries select the defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

// Set stores value under key, evicting the oldest-inserted entry if the cache is full.
func (c *Cache) Set(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.entries[key]; !ok {
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = entry{value: value, insertedAt: c.now()}
}

// Get returns the value stored under key, or nil and false on a miss. An
// entry past its TTL counts as a miss and is removed.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.removeLocked(key)
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	return e.value, true
}

// Invalidate removes entries. Without arguments it clears the entire cache.
// With patterns, it removes every key containing any of the patterns as a
// substring. Invalidate is idempotent.
func (c *Cache) Invalidate(patterns ...string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(patterns) == 0 {
		c.entries = make(map[string]entry)
		c.order = nil
		return
	}
	kept := c.order[:0]
	for _, key := range c.order {
		matched := false
		for _, pattern := range patterns {
			if strings.Contains(key, pattern) {
				matched = true
				break
			}
		}
		if matched {
			delete(c.entries, key)
		} else {
			kept = append(kept, key)
		}
	}
	c.order = kept
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	stats := c.stats
	stats.Size = len(c.entries)
	return stats
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
	c.stats.Evictions++
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
