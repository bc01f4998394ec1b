// Package expiry provides time-bounded in-memory containers.
package expiry

import (
	"math"
	"sync"
	"time"
)

// Never is a TTL for entries that do not expire on their own.
const Never time.Duration = math.MaxInt64

// Config configures a Cache.
type Config[V any] struct {
	// TTL is applied by Set. Zero or negative means every Set stores an
	// already expired entry.
	TTL time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// OnEvict is called with every value that leaves the cache: replaced,
	// removed, cleared or expired. It runs with the cache locked and must not
	// call back into the cache.
	OnEvict func(key string, value V)
}

type entry[V any] struct {
	value     V
	ttl       time.Duration
	expiresAt time.Time // zero: never
}

// Cache is a map whose entries stop being readable once their TTL has
// elapsed. Expired entries are purged when they are next accessed; there is
// no background sweeper. It is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
	onEvict func(string, V)
}

// New returns a cache that applies ttl on Set.
func New[V any](ttl time.Duration) *Cache[V] {
	return NewWithConfig(Config[V]{TTL: ttl})
}

// NewWithConfig returns a cache configured by cfg.
func NewWithConfig[V any](cfg Config[V]) *Cache[V] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     cfg.TTL,
		now:     now,
		onEvict: cfg.OnEvict,
	}
}

// TTL returns the default time to live.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Set stores value under key with the default TTL, replacing any previous
// entry and restarting its expiry.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key for ttl. A ttl of zero or less stores
// nothing: the previous entry is evicted and value goes straight to OnEvict.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(key)

	if ttl <= 0 {
		if c.onEvict != nil {
			c.onEvict(key, value)
		}
		return
	}

	e := entry[V]{value: value, ttl: ttl}
	if ttl != Never {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
}

// Get returns the value stored under key. Expired entries are reported as
// missing and dropped. A hit does not change the entry's expiry.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// With calls fn with the value stored under key while the cache is locked,
// so no eviction can run concurrently with fn. It reports whether the entry
// was live. fn must not call back into the cache.
func (c *Cache[V]) With(key string, fn func(V)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok {
		return false
	}
	fn(e.value)
	return true
}

// Touch restarts the expiry of a live entry using the TTL it was stored
// with. It reports whether the entry was live.
func (c *Cache[V]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok {
		return false
	}
	if e.ttl != Never {
		e.expiresAt = c.now().Add(e.ttl)
		c.entries[key] = e
	}
	return true
}

// ExpiresAt returns the expiry of a live entry. The zero time means the
// entry never expires.
func (c *Cache[V]) ExpiresAt(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.liveLocked(key)
	if !ok {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// Remove deletes key. Removing a missing key is a no-op.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
}

// Clear deletes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.evictLocked(key)
	}
}

// Len returns the number of stored entries, including expired entries that
// have not been accessed since they expired.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every expired entry and returns how many were dropped.
func (c *Cache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.evictLocked(key)
			n++
		}
	}
	return n
}

func (c *Cache[V]) liveLocked(key string) (entry[V], bool) {
	e, ok := c.entries[key]
	if !ok {
		return e, false
	}
	if e.expired(c.now()) {
		c.evictLocked(key)
		return entry[V]{}, false
	}
	return e, true
}

func (c *Cache[V]) evictLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	if c.onEvict != nil {
		c.onEvict(key, e.value)
	}
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
