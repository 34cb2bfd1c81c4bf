package mandate

import (
	"container/list"
	"sync"
	"time"

	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
)

// cacheEntry represents a single cache entry; it expires with its mandate
type cacheEntry struct {
	fingerprint string
	mandate     *models.Mandate
	expiresAt   time.Time
	element     *list.Element // For LRU tracking
}

// isExpired checks if the cache entry can no longer be served
func (e *cacheEntry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is an in-memory LRU cache of mandates keyed by request fingerprint.
// An entry is never returned at or after its expires_at.
// Thread-safe implementation using sync.RWMutex
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*cacheEntry // Key: fingerprint
	lruList   *list.List             // Doubly linked list for LRU tracking
	maxSize   int                    // Maximum number of entries
	clock     clock.Clock
	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// NewCache creates a new Cache with the specified max size
func NewCache(maxSize int, clk clock.Clock) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		clock:   clk,
	}
}

// Lookup retrieves a live mandate for the fingerprint.
// An expired entry is removed and reported as a miss.
func (c *Cache) Lookup(fingerprint string) (*models.Mandate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[fingerprint]

	if !exists || entry.isExpired(c.clock.Now()) {
		c.misses++
		if exists {
			c.expired++
			c.removeEntry(fingerprint)
		}
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.mandate.Clone(), true
}

// Store caches a mandate under the fingerprint.
// Mandates that are already expired are not stored.
func (c *Cache) Store(fingerprint string, m *models.Mandate) {
	if m == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m.Expired(c.clock.Now()) {
		return
	}

	stored := m.Clone()

	// Check if entry already exists
	if entry, exists := c.entries[fingerprint]; exists {
		entry.mandate = stored
		entry.expiresAt = stored.ExpiresAt
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		fingerprint: fingerprint,
		mandate:     stored,
		expiresAt:   stored.ExpiresAt,
	}

	// Add to front of LRU list
	entry.element = c.lruList.PushFront(fingerprint)
	c.entries[fingerprint] = entry
}

// Invalidate removes a specific cache entry
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(fingerprint)
}

// InvalidatePrincipal removes all cache entries issued to a principal
func (c *Cache) InvalidatePrincipal(principal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, entry := range c.entries {
		if entry.mandate.Principal == principal {
			c.removeEntry(fp)
			removed++
		}
	}
	return removed
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Expired   uint64  `json:"expired"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:      c.lruList.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		HitRate:   c.calculateHitRate(),
	}
}

// calculateHitRate calculates the cache hit rate
func (c *Cache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *Cache) removeEntry(fingerprint string) {
	if entry, exists := c.entries[fingerprint]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, fingerprint)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *Cache) evictLRU() {
	backElement := c.lruList.Back()
	if backElement == nil {
		return
	}

	fingerprint := backElement.Value.(string)
	c.lruList.Remove(backElement)
	delete(c.entries, fingerprint)
	c.evictions++
}

// CleanupExpired removes all expired entries
// Should be called periodically in a background goroutine
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	expiredKeys := make([]string, 0)

	for fp, entry := range c.entries {
		if entry.isExpired(now) {
			expiredKeys = append(expiredKeys, fp)
		}
	}

	for _, fp := range expiredKeys {
		c.removeEntry(fp)
	}
	c.expired += uint64(len(expiredKeys))

	return len(expiredKeys)
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (c *Cache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
