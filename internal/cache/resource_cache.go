package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a cached discovery result stays fresh unless the
// caller overrides it per entry.
const DefaultTTL = 5 * time.Minute

// Entry is one cached discovery result.
type Entry struct {
	Key       string
	Value     interface{}
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Stats are monotonically accumulating cache counters, reset only by
// ResetStats.
type Stats struct {
	Size      int
	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64
}

// FetchFunc produces the value for a key on a cache miss. Discovery calls
// are idempotent, so a duplicate fetch is wasteful but never incorrect.
type FetchFunc func(ctx context.Context) (interface{}, error)

// ResourceCache is a TTL cache in front of expensive AWS discovery calls.
// Keys follow the service:region:resourceType:... convention so that
// invalidation by service or region is a prefix/segment match. Concurrent
// misses for the same key are deduplicated through a single-flight group.
//
// The cache is scoped to one scan; sharing it across scans of different
// accounts would leak resource metadata between tenants.
type ResourceCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration

	hits      int64
	misses    int64
	evictions int64

	group singleflight.Group
}

// NewResourceCache creates a cache with the given default TTL. A
// non-positive TTL falls back to DefaultTTL.
func NewResourceCache(ttl time.Duration) *ResourceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResourceCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
	}
}

// Key composes a cache key from its parts using the
// service:region:resourceType:... convention.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Get returns the cached value for key, or invokes fetch, stores the result
// with the default TTL, and returns it. Concurrent callers missing on the
// same key share one fetch execution.
func (c *ResourceCache) Get(ctx context.Context, key string, fetch FetchFunc) (interface{}, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A racing caller may have populated the key while this one waited
		// on the flight group. The outer lookup already counted this access;
		// the re-check must not count it again.
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, 0)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// lookup checks the map honoring TTL, recording a hit or miss. Expired
// entries are evicted lazily here.
func (c *ResourceCache) lookup(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.Value, true
}

// peek checks the map honoring TTL without touching the hit/miss counters.
func (c *ResourceCache) peek(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.evictions++
		return nil, false
	}
	return entry.Value, true
}

// Set unconditionally stores value under key. A non-positive customTTL uses
// the cache default.
func (c *ResourceCache) Set(key string, value interface{}, customTTL time.Duration) {
	ttl := customTTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

// Has reports whether key is present and unexpired, lazily evicting it when
// stale. It does not count as a hit or miss.
func (c *ResourceCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.evictions++
		return false
	}
	return true
}

// Invalidate removes one key. Returns true when the key was present.
func (c *ResourceCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.evictions++
	return true
}

// InvalidatePattern removes every key matching the regular expression,
// returning the count removed.
func (c *ResourceCache) InvalidatePattern(pattern *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if pattern.MatchString(key) {
			delete(c.entries, key)
			c.evictions++
			removed++
		}
	}
	return removed
}

// InvalidateByService removes every key whose leading segment is service.
func (c *ResourceCache) InvalidateByService(service string) int {
	prefix := service + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.evictions++
			removed++
		}
	}
	return removed
}

// InvalidateByRegion removes every key whose second segment is region.
func (c *ResourceCache) InvalidateByRegion(region string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		parts := strings.SplitN(key, ":", 3)
		if len(parts) >= 2 && parts[1] == region {
			delete(c.entries, key)
			c.evictions++
			removed++
		}
	}
	return removed
}

// Cleanup sweeps out all expired entries. Not required for correctness
// (reads evict lazily) but bounds memory during a long scan window.
func (c *ResourceCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			c.evictions++
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine sweeps expired entries on a ticker until ctx is done.
func (c *ResourceCache) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Cleanup()
			}
		}
	}()
}

// GetStats returns a snapshot of the counters. Hit rate is
// hits/(hits+misses), zero when there have been no accesses.
func (c *ResourceCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// ResetStats zeroes the counters without touching the entries.
func (c *ResourceCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Clear drops every entry without counting evictions, for reuse in tests
// and between scans.
func (c *ResourceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}
