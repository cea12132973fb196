package secrets

import (
	"sync"
	"time"
)

// CacheConfig configures the secret cache.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Cache holds resolved secrets for a TTL. When full, the entry closest to
// expiry is evicted.
type Cache struct {
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache creates a cache.
func NewCache(config CacheConfig) *Cache {
	return &Cache{
		config:  config,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a cached value that has not expired.
func (c *Cache) Get(key string) (string, bool) {
	if !c.config.Enabled {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// Set caches value under key.
func (c *Cache) Set(key, value string) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.config.MaxSize > 0 && len(c.entries) >= c.config.MaxSize {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.expiresAt.Before(oldestAt) {
				oldest, oldestAt = k, e.expiresAt
			}
		}
		delete(c.entries, oldest)
	}

	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.config.TTL)}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of cached entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
