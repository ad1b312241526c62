// Package cache provides the in-process TTL store used for AI response
// caching and other ephemeral data, plus an optional Redis-backed variant.
package cache

import (
	"sync"
	"time"
)

const (
	defaultCapacity      = 1024
	defaultSweepInterval = time.Minute
)

// Stats reports cache entry counts and hit-rate accounting.
type Stats struct {
	TotalEntries   int
	ExpiredEntries int
	ValidEntries   int
	Hits           uint64
	Misses         uint64
	HitRate        float64
}

type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time // zero means never expires
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process TTL key/value store. Expired entries are
// deleted lazily on read and additionally by a periodic background sweep;
// Get never returns an expired entry regardless of whether the sweep has
// run. When the store is at capacity, setting a new key evicts the
// oldest-created entries first.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	hits    uint64
	misses  uint64

	capacity      int
	sweepInterval time.Duration
	now           func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithCapacity sets the maximum entry count before eviction kicks in.
func WithCapacity(n int) MemoryOption {
	return func(c *MemoryCache) {
		c.capacity = n
	}
}

// WithSweepInterval sets how often the background sweep purges expired
// entries. A non-positive interval disables the sweep; expired entries are
// then removed only lazily on read or by an explicit Sweep call.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		c.sweepInterval = d
	}
}

// NewMemory creates a memory cache and starts its background sweeper.
func NewMemory(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries:       make(map[string]*entry),
		capacity:      defaultCapacity,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sweepInterval > 0 {
		go c.sweeper()
	} else {
		close(c.done)
	}
	return c
}

// Get retrieves a value. Expired entries are deleted and reported as a
// miss.
func (c *MemoryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.value, true
}

// Set stores a value. A non-positive ttl means the entry never expires.
// Setting an existing key overwrites it and resets its expiry.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := &entry{value: value, createdAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	if _, exists := c.entries[key]; !exists && c.capacity > 0 {
		for len(c.entries) >= c.capacity {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = e
}

// evictOldestLocked removes the entry with the earliest creation time.
// Caller holds c.mu.
func (c *MemoryCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Delete removes a key, reporting whether it was present.
func (c *MemoryCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Len returns the current entry count, including unswept expired entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns entry counts and hit-rate accounting.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0
	for _, e := range c.entries {
		if e.expired(now) {
			expired++
		}
	}

	s := Stats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ValidEntries:   len(c.entries) - expired,
		Hits:           c.hits,
		Misses:         c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Sweep removes all expired entries immediately and returns how many were
// purged.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			purged++
		}
	}
	return purged
}

func (c *MemoryCache) sweeper() {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the background sweeper. Idempotent.
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}
