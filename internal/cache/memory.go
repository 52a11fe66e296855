package cache

import (
	"bytes"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is the in-process front layer, backed by go-cache. Entries
// never outlive maxTTL, whatever TTL the caller asks for; the back layer
// holds them for the full period.
type MemoryCache struct {
	items  *gocache.Cache
	maxTTL time.Duration
}

// NewMemoryCache creates a memory cache whose entries live at most maxTTL.
// Expired entries are swept every cleanupInterval.
func NewMemoryCache(maxTTL, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		items:  gocache.New(maxTTL, cleanupInterval),
		maxTTL: maxTTL,
	}
}

// Get returns a copy of the stored value
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, found := c.items.Get(key)
	if !found {
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return bytes.Clone(b), true
}

// Set stores a copy of value. A zero ttl, or one past maxTTL, is clamped
// to maxTTL.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || (c.maxTTL > 0 && ttl > c.maxTTL) {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(key, bytes.Clone(value), ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Len counts stored entries, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}
