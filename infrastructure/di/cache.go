package di

import (
	"context"
	"sync"
	"time"

	"consumerdocs/domain/observation"
)

// InMemoryCache caches service records in process memory
type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	now   func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	records   []observation.Record
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache with a background sweep
// of expired entries. Close stops the sweep.
func NewInMemoryCache() *InMemoryCache {
	cache := &InMemoryCache{
		items:  make(map[string]cacheItem),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	go cache.cleanupExpired(time.Minute)

	return cache
}

// Get retrieves the cached records of a service. Callers receive copies.
func (c *InMemoryCache) Get(ctx context.Context, serviceName string) ([]observation.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[serviceName]
	if !exists || c.now().After(item.expiresAt) {
		return nil, false
	}
	return cloneRecords(item.records), true
}

// Set stores the records of a service with TTL
func (c *InMemoryCache) Set(ctx context.Context, serviceName string, records []observation.Record, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[serviceName] = cacheItem{
		records:   cloneRecords(records),
		expiresAt: c.now().Add(ttl),
	}
}

// Delete removes the cached records of a service
func (c *InMemoryCache) Delete(ctx context.Context, serviceName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, serviceName)
}

// Close stops the background sweep
func (c *InMemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *InMemoryCache) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *InMemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

func cloneRecords(records []observation.Record) []observation.Record {
	out := make([]observation.Record, len(records))
	for i := range records {
		out[i] = *records[i].Clone()
	}
	return out
}
