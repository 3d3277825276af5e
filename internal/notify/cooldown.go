package notify

import (
	"sync"
	"time"
)

// cooldownCache tracks the last successful verification-code delivery per
// phone number. Entries block repeat sends for ttl and are swept once older
// than maxAge.
type cooldownCache struct {
	ttl    time.Duration
	maxAge time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

func newCooldownCache(ttl, maxAge time.Duration) *cooldownCache {
	return &cooldownCache{
		ttl:     ttl,
		maxAge:  maxAge,
		entries: make(map[string]time.Time),
	}
}

// Active reports whether a delivery to phone is still inside the cooldown
// window.
func (c *cooldownCache) Active(phone string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[phone]
	return ok && now.Sub(at) < c.ttl
}

// Record marks a successful delivery to phone.
func (c *cooldownCache) Record(phone string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[phone] = now
}

// Sweep drops entries older than maxAge and returns how many were removed.
func (c *cooldownCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for phone, at := range c.entries {
		if now.Sub(at) > c.maxAge {
			delete(c.entries, phone)
			removed++
		}
	}
	return removed
}

func (c *cooldownCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
