package saltedge

import (
	"sync"
	"time"
)

// DefaultCustomerTTL is how long a created customer is reused.
const DefaultCustomerTTL = 24 * time.Hour

type cacheEntry struct {
	customer *Customer
	created  time.Time
}

// CustomerCache maps a caller-chosen identifier to a created customer.
// Expired entries are evicted lazily on read.
type CustomerCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCustomerCache(ttl time.Duration) *CustomerCache {
	if ttl <= 0 {
		ttl = DefaultCustomerTTL
	}
	return &CustomerCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *CustomerCache) Get(identifier string) (*Customer, bool) {
	c.mu.RLock()
	entry, ok := c.entries[identifier]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	now := c.now()
	if now.Before(entry.created.Add(c.ttl)) {
		return entry.customer, true
	}

	c.mu.Lock()
	// Re-check: another caller may have refreshed the entry.
	if current, ok := c.entries[identifier]; ok && !now.Before(current.created.Add(c.ttl)) {
		delete(c.entries, identifier)
	}
	c.mu.Unlock()
	return nil, false
}

func (c *CustomerCache) Set(identifier string, customer *Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identifier] = cacheEntry{customer: customer, created: c.now()}
}

func (c *CustomerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *CustomerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
