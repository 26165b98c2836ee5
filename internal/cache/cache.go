// Package cache provides the in-memory query cache for the Citizenly
// offline data layer.
//
// The cache memoizes expensive reads for the lifetime of the process.
// It is never a source of truth: entries expire by TTL, are evicted by
// write recency when the cache is full, and are burst-invalidated by
// tag when the underlying records change. Durable state lives in the
// store package; nothing here survives a restart.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL applies when Set is called without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds the cache when no capacity is configured.
const DefaultMaxEntries = 512

// Options configures a Cache.
type Options struct {
	// MaxEntries is the hard upper bound on entry count. Eviction of
	// the oldest-written entry happens strictly before an insert would
	// exceed it. Zero means DefaultMaxEntries.
	MaxEntries int

	// TTL is the default time-to-live for entries stored without one.
	// Zero means DefaultTTL.
	TTL time.Duration
}

// SetOptions configures a single Set call.
type SetOptions struct {
	// TTL overrides the cache default for this entry. Zero keeps the
	// default.
	TTL time.Duration

	// Tags label the entry for burst invalidation.
	Tags []string
}

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration
	tags     []string
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a TTL- and tag-addressable in-memory cache.
// Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	defaultTTL time.Duration
	hits       uint64
	misses     uint64
	evictions  uint64

	// now is swappable so tests can control expiry.
	now func() time.Time
}

// New constructs a Cache with the given options.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Cache{
		entries:    make(map[string]*entry),
		maxEntries: opts.MaxEntries,
		defaultTTL: opts.TTL,
		now:        time.Now,
	}
}

// Get returns the cached value for key. The second return is false both
// on a true miss and on a lazily-detected expiry; an expired entry is
// purged by the read that discovers it. Both outcomes count as misses.
func (c *Cache) Get(key string) (any, bool) {
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

// Set stores a value under key. When the cache is at capacity and key
// is not already present, the single entry with the oldest write
// timestamp is evicted first, so the capacity bound is never exceeded.
func (c *Cache) Set(key string, value any, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = &entry{
		value:    value,
		storedAt: c.now(),
		ttl:      ttl,
		tags:     opts.Tags,
	}
}

// Delete removes a single entry. Idempotent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateByTag removes every entry whose tag set contains tag and
// returns how many were removed. Writers use this to burst-expire all
// cached reads touching a changed resource family.
func (c *Cache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		for _, t := range e.tags {
			if t == tag {
				delete(c.entries, key)
				removed++
				break
			}
		}
	}
	return removed
}

// Cleanup sweeps every expired entry regardless of access and returns
// how many were removed. Intended for periodic background hygiene.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Purge drops every entry and is used on logout/reset.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictOldestLocked removes the entry with the smallest storedAt.
// Recency of write, not access, governs eviction.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time

	for key, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
