// ABOUTME: Thread-safe bounded cache with per-entry expiry and a background janitor.
// ABOUTME: Backs the in-memory session store and webhook duplicate suppression.

package ttlcache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores a cached value, its deadline and its position in the insertion list.
type entry[V any] struct {
	value     V
	expiresAt time.Time
	element   *list.Element
}

// Cache is a size-limited map with per-entry expiry. Expired entries are
// invisible to readers immediately and reclaimed by a janitor goroutine.
// When full, the oldest inserted entry is evicted.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	order   *list.List // keys in insertion order (oldest at front)
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most maxSize entries. A background goroutine
// purges expired entries every janitorInterval; zero disables the janitor.
func New[V any](maxSize int, janitorInterval time.Duration) *Cache[V] {
	return NewWithClock[V](maxSize, janitorInterval, time.Now)
}

// NewWithClock is New with an explicit time source.
func NewWithClock[V any](maxSize int, janitorInterval time.Duration, now func() time.Time) *Cache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		order:   list.New(),
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	if janitorInterval > 0 {
		go c.janitor(janitorInterval)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, _, ok := c.GetWithExpiry(key)
	return v, ok
}

// GetWithExpiry returns the value for key along with its deadline.
func (c *Cache[V]) GetWithExpiry(key string) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, time.Time{}, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(key, e)
		return zero, time.Time{}, false
	}
	return e.value, e.expiresAt, true
}

// Set installs or overwrites key with a deadline ttl from now.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

// Touch resets the deadline of a live key. Returns false when the key is absent or expired.
func (c *Cache[V]) Touch(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		c.removeLocked(key, e)
		return false
	}
	e.expiresAt = now.Add(ttl)
	return true
}

// CheckAndMark atomically checks whether key is live and marks it if not.
// Returns true if the key was already present (duplicate), false if it is new and now marked.
func (c *Cache[V]) CheckAndMark(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && c.now().Before(e.expiresAt) {
		return true
	}

	var zero V
	c.setLocked(key, zero, ttl)
	return false
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// setLocked must be called with mu held.
func (c *Cache[V]) setLocked(key string, value V, ttl time.Duration) {
	expiresAt := c.now().Add(ttl)

	if e, exists := c.entries[key]; exists {
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.purgeExpiredLocked()
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry[V]{
		value:     value,
		expiresAt: expiresAt,
		element:   elem,
	}
}

func (c *Cache[V]) removeLocked(key string, e *entry[V]) {
	c.order.Remove(e.element)
	delete(c.entries, key)
}

// evictOldest removes the oldest inserted entry, live or not. Callers reclaim
// expired entries first. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

func (c *Cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.done:
			return
		}
	}
}

// purgeExpired removes all expired entries from the cache.
func (c *Cache[V]) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked()
}

func (c *Cache[V]) purgeExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			c.removeLocked(key, e)
		}
	}
}

// Close stops the janitor goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
