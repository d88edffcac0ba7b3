// Package reconcile holds the optimistic/authoritative cache shared by the view
// and reaction caches.
//
// A key can be written two ways:
//
//   - ApplyOptimistic: a local mutation the user just made. It may take a lock
//     for a bounded window during which authoritative writes are discarded.
//   - ApplyAuthoritative: a value derived from the store (fetch, prefetch, change
//     event). It is a no-op while the key is locked.
//
// Entries also carry the time they were last written so readers can apply a TTL.
package reconcile

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry[V any] struct {
	value       V
	updatedAt   time.Time
	lockedUntil time.Time
	optimistic  bool
}

// Snapshot is a read-only view of one entry.
type Snapshot[V any] struct {
	Value      V
	UpdatedAt  time.Time
	Optimistic bool
	Locked     bool
}

type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	ttl     time.Duration
	clock   clock.Clock
}

// New creates a cache whose entries go stale ttl after their last write.
// A zero ttl disables staleness.
func New[K comparable, V any](ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &Cache[K, V]{
		entries: make(map[K]*entry[V]),
		ttl:     ttl,
		clock:   clk,
	}
}

// Get returns the value if present and not stale.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.staleLocked(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Peek returns the entry regardless of staleness.
func (c *Cache[K, V]) Peek(key K) (Snapshot[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Snapshot[V]{}, false
	}
	return Snapshot[V]{
		Value:      e.value,
		UpdatedAt:  e.updatedAt,
		Optimistic: e.optimistic,
		Locked:     c.lockedLocked(e),
	}, true
}

// ApplyOptimistic runs mutate against the current value under the cache lock and
// stores the result. A positive lock suppresses authoritative writes for that window;
// re-locking extends from now.
func (c *Cache[K, V]) ApplyOptimistic(key K, lock time.Duration, mutate func(cur V, ok bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries[key]
	var cur V
	if ok {
		cur = e.value
	} else {
		e = &entry[V]{}
		c.entries[key] = e
	}

	e.value = mutate(cur, ok)
	e.updatedAt = now
	e.optimistic = true
	if lock > 0 {
		e.lockedUntil = now.Add(lock)
	}
	return e.value
}

// ApplyAuthoritative merges a store-derived value into the entry. It reports false,
// leaving the entry untouched, while the key is locked.
func (c *Cache[K, V]) ApplyAuthoritative(key K, merge func(cur V, ok bool) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.lockedLocked(e) {
		return false
	}
	var cur V
	if ok {
		cur = e.value
	} else {
		e = &entry[V]{}
		c.entries[key] = e
	}

	e.value = merge(cur, ok)
	e.updatedAt = c.clock.Now()
	e.optimistic = false
	return true
}

// Release drops the lock on key so the next authoritative write lands.
func (c *Cache[K, V]) Release(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.lockedUntil = time.Time{}
	}
}

func (c *Cache[K, V]) IsLocked(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && c.lockedLocked(e)
}

// StaleKeys lists entries older than the TTL.
func (c *Cache[K, V]) StaleKeys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []K
	for k, e := range c.entries {
		if c.staleLocked(e) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*entry[V])
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *Cache[K, V]) staleLocked(e *entry[V]) bool {
	if c.ttl <= 0 {
		return false
	}
	return c.clock.Now().Sub(e.updatedAt) >= c.ttl
}

func (c *Cache[K, V]) lockedLocked(e *entry[V]) bool {
	return !e.lockedUntil.IsZero() && c.clock.Now().Before(e.lockedUntil)
}
