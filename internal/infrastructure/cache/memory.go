package cache

import (
	"context"
	"sync"
	"time"

	"costledger/internal/core/id"
	"costledger/internal/domain/valuation"
)

var _ valuation.Cache = (*MemoryCache)(nil)

type memoryEntry struct {
	value     valuation.Valuation
	expiresAt time.Time
}

// MemoryCache is an in-process valuation cache with per-entry TTL.
// Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[id.ID]map[string]memoryEntry
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[id.ID]map[string]memoryEntry),
	}
}

// Get implements valuation.Cache.
func (c *MemoryCache) Get(_ context.Context, key valuation.CacheKey) (valuation.Valuation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.entries[key.ProductID]
	if !ok {
		return valuation.Valuation{}, false, nil
	}
	e, ok := fields[key.Field()]
	if !ok {
		return valuation.Valuation{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(fields, key.Field())
		if len(fields) == 0 {
			delete(c.entries, key.ProductID)
		}
		return valuation.Valuation{}, false, nil
	}
	return e.value, true, nil
}

// Set implements valuation.Cache.
func (c *MemoryCache) Set(_ context.Context, key valuation.CacheKey, v valuation.Valuation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.entries[key.ProductID]
	if !ok {
		fields = make(map[string]memoryEntry)
		c.entries[key.ProductID] = fields
	}
	fields[key.Field()] = memoryEntry{value: v, expiresAt: c.now().Add(c.ttl)}
	return nil
}

// InvalidateProduct implements valuation.Cache.
func (c *MemoryCache) InvalidateProduct(_ context.Context, productID id.ID) error {
	c.mu.Lock()
	delete(c.entries, productID)
	c.mu.Unlock()
	return nil
}
