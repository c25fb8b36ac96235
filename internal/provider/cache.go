package provider

import (
	"context"
	"sync"
	"time"
)

// ClientCache caches authenticated clients per account with a TTL and a
// capacity bound. It replaces ad-hoc global maps: construct one, inject it
// where a ClientSource is needed, and call Invalidate when an account's
// token is refreshed or revoked.
type ClientCache struct {
	source   ClientSource
	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[int64]*cacheEntry
}

type cacheEntry struct {
	client   CalendarAPI
	expires  time.Time
	lastUsed time.Time
}

// NewClientCache wraps source with TTL-based caching. capacity <= 0 means
// unbounded.
func NewClientCache(source ClientSource, ttl time.Duration, capacity int) *ClientCache {
	return &ClientCache{
		source:   source,
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[int64]*cacheEntry),
	}
}

func (c *ClientCache) ClientFor(ctx context.Context, accountID int64) (CalendarAPI, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[accountID]; ok && e.expires.After(now) {
		e.lastUsed = now
		client := e.client
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	client, err := c.source.ClientFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[accountID] = &cacheEntry{
		client:   client,
		expires:  now.Add(c.ttl),
		lastUsed: now,
	}
	return client, nil
}

// Invalidate drops the cached client for an account, forcing the next call
// back through the source. Call on token refresh or auth failure.
func (c *ClientCache) Invalidate(accountID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
}

func (c *ClientCache) evictOldest() {
	var oldest int64
	var oldestUsed time.Time
	first := true
	for id, e := range c.entries {
		if first || e.lastUsed.Before(oldestUsed) {
			oldest, oldestUsed, first = id, e.lastUsed, false
		}
	}
	if !first {
		delete(c.entries, oldest)
	}
}
