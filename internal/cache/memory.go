// internal/cache/memory.go
package cache

import (
	"sync"
	"time"

	"wardendns.io/internal/models"
)

// Cache interface defines the contract for record-inventory caching
type Cache interface {
	// Basic operations
	Get(key string) ([]*models.LocalRecord, bool)
	Set(key string, records []*models.LocalRecord, ttl time.Duration)
	Delete(key string)
	Clear()

	// Management
	Size() int
	Stats() Stats
	Close() error
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Entries     int       `json:"entries"`
	Evictions   int64     `json:"evictions"`
	LastCleanup time.Time `json:"last_cleanup"`
	HitRate     float64   `json:"hit_rate"`
}

// calculateHitRate computes the cache hit rate as a percentage
func (s *Stats) calculateHitRate() {
	total := s.Hits + s.Misses
	if total == 0 {
		s.HitRate = 0.0
	} else {
		s.HitRate = float64(s.Hits) / float64(total) * 100.0
	}
}

type cacheEntry struct {
	records    []*models.LocalRecord
	expiresAt  time.Time
	lastAccess time.Time
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired() bool {
	return time.Now().After(e.expiresAt)
}

// MemoryCache implements an in-memory LRU cache with TTL support
type MemoryCache struct {
	mu         sync.RWMutex
	data       map[string]*cacheEntry
	maxEntries int
	stats      Stats

	// Background cleanup
	cleanupInterval time.Duration
	cleanupTicker   *time.Ticker
	cleanupStop     chan struct{}
	cleanupDone     chan struct{}
}

// Config holds configuration for the memory cache
type Config struct {
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultConfig returns a cache config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:      10000,
		CleanupInterval: 60 * time.Second,
	}
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(config *Config) *MemoryCache {
	if config == nil {
		config = DefaultConfig()
	}

	c := &MemoryCache{
		data:            make(map[string]*cacheEntry),
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	if c.cleanupInterval > 0 {
		c.cleanupTicker = time.NewTicker(c.cleanupInterval)
		go c.cleanupLoop()
	} else {
		close(c.cleanupDone)
	}

	return c
}

// Get returns the cached records for a key, if present and not expired
func (c *MemoryCache) Get(key string) ([]*models.LocalRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.data[key]
	if !exists || entry.isExpired() {
		if exists {
			delete(c.data, key)
		}
		c.stats.Misses++
		return nil, false
	}

	entry.lastAccess = time.Now()
	c.stats.Hits++
	return entry.records, true
}

// Set stores records under a key with the given TTL
func (c *MemoryCache) Set(key string, records []*models.LocalRecord, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.data[key] = &cacheEntry{
		records:    records,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}

	if len(c.data) > c.maxEntries {
		c.evictOldest()
	}
}

// Delete removes a key
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Clear removes all entries
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*cacheEntry)
}

// Size returns the number of cached entries
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns cache performance statistics
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Entries = len(c.data)
	stats.calculateHitRate()
	return stats
}

// Close stops the background cleanup goroutine
func (c *MemoryCache) Close() error {
	if c.cleanupTicker != nil {
		c.cleanupTicker.Stop()
		close(c.cleanupStop)
		<-c.cleanupDone
	}
	return nil
}

// evictOldest removes the least recently accessed entry. Caller holds mu.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestAccess time.Time

	for key, entry := range c.data {
		if oldestKey == "" || entry.lastAccess.Before(oldestAccess) {
			oldestKey = key
			oldestAccess = entry.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.data, oldestKey)
		c.stats.Evictions++
	}
}

// cleanupLoop periodically removes expired entries
func (c *MemoryCache) cleanupLoop() {
	defer close(c.cleanupDone)

	for {
		select {
		case <-c.cleanupStop:
			return
		case <-c.cleanupTicker.C:
			c.removeExpired()
		}
	}
}

// removeExpired drops all expired entries
func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
			c.stats.Evictions++
		}
	}
	c.stats.LastCleanup = now
}
