package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen keys so redelivered inbound events
// (listener restarts, double taps) are processed once.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	order   []string
	now     func() time.Time
}

// NewDedupeCache creates a cache that forgets keys after ttl and holds at most max keys.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// IsDuplicate records key and reports whether it was already seen within the TTL.
func (c *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}
	if _, ok := c.entries[key]; ok {
		// Expired but not yet pruned: move it to the back.
		for i, k := range c.order {
			if k == key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	c.order = append(c.order, key)
	c.entries[key] = now

	for c.max > 0 && len(c.entries) > c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	return false
}

// prune drops expired keys from the front of the insertion order.
func (c *DedupeCache) prune(now time.Time) {
	for len(c.order) > 0 {
		k := c.order[0]
		if seen, ok := c.entries[k]; ok && now.Sub(seen) < c.ttl {
			return
		}
		c.order = c.order[1:]
		delete(c.entries, k)
	}
}
