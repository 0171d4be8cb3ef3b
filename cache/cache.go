// Package cache provides a small bounded key/value cache with
// least-recently-used eviction and optional per-entry expiry.
//
// The cache is capacity-bounded: inserting a new key at capacity evicts
// the least recently used entry. Expired entries are treated as misses
// and removed lazily on access; Len sweeps all expired entries first so
// the reported size is accurate.
//
// Example:
//
//	c, err := cache.New[string, int](100, cache.WithTTL(time.Minute))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.Set("answer", 42)
//	v, ok := c.Get("answer")
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidCapacity is returned when constructing a cache with a
// non-positive capacity.
var ErrInvalidCapacity = errors.New("cache: capacity must be greater than zero")

// options holds cache configuration (unexported).
type options struct {
	ttl time.Duration
	now func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithTTL sets the default time-to-live applied by Set and GetOrSet.
// Zero means entries never expire.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time // zero value means no expiry
}

// Cache is a capacity- and TTL-bounded key/value store with LRU
// eviction. Safe for concurrent use.
//
// GetOrSet gives no single-flight guarantee: concurrent callers for the
// same missing key may each invoke the factory.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    *list.List // front is most recently used
	items    map[K]*list.Element
}

// New creates a cache holding at most capacity entries.
// Returns ErrInvalidCapacity if capacity is not positive.
func New[K comparable, V any](capacity int, opts ...Option) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return &Cache[K, V]{
		capacity: capacity,
		ttl:      o.ttl,
		now:      o.now,
		order:    list.New(),
		items:    make(map[K]*list.Element, capacity),
	}, nil
}

// Get returns the value stored under k. An expired entry counts as a
// miss and is removed. A hit moves the key to most-recently-used.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[k]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if c.expired(ent) {
		c.remove(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Set stores v under k with the cache's default TTL.
func (c *Cache[K, V]) Set(k K, v V) {
	c.SetWithTTL(k, v, c.ttl)
}

// SetWithTTL stores v under k with an explicit TTL. Zero means the
// entry never expires. Replacing an existing key moves it to
// most-recently-used; inserting a new key at capacity evicts the least
// recently used entry.
func (c *Cache[K, V]) SetWithTTL(k K, v V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if el, ok := c.items[k]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = v
		ent.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}

	el := c.order.PushFront(&entry[K, V]{key: k, value: v, expiresAt: expiresAt})
	c.items[k] = el
}

// Has reports whether k is present and not expired. It does not affect
// recency.
func (c *Cache[K, V]) Has(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[k]
	if !ok {
		return false
	}
	if c.expired(el.Value.(*entry[K, V])) {
		c.remove(el)
		return false
	}
	return true
}

// Delete removes k. Returns true if the key was present.
func (c *Cache[K, V]) Delete(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[k]
	if !ok {
		return false
	}
	c.remove(el)
	return true
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[K]*list.Element, c.capacity)
}

// Len returns the number of live entries, sweeping expired ones first.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[K, V])) {
			c.remove(el)
		}
		el = next
	}
	return len(c.items)
}

// Capacity returns the maximum number of entries.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// GetOrSet returns the cached value for k, or invokes factory and
// caches its result with the default TTL. A factory error is returned
// as-is and nothing is stored.
func (c *Cache[K, V]) GetOrSet(k K, factory func() (V, error)) (V, error) {
	return c.GetOrSetWithTTL(k, factory, c.ttl)
}

// GetOrSetWithTTL is GetOrSet with an explicit TTL for the stored value.
func (c *Cache[K, V]) GetOrSetWithTTL(k K, factory func() (V, error), ttl time.Duration) (V, error) {
	if v, ok := c.Get(k); ok {
		return v, nil
	}

	// The factory runs outside the lock, so concurrent callers for the
	// same missing key may each compute a value. Last write wins.
	v, err := factory()
	if err != nil {
		var zero V
		return zero, err
	}
	c.SetWithTTL(k, v, ttl)
	return v, nil
}

func (c *Cache[K, V]) expired(ent *entry[K, V]) bool {
	return !ent.expiresAt.IsZero() && !c.now().Before(ent.expiresAt)
}

// remove unlinks an element; callers must hold the lock.
func (c *Cache[K, V]) remove(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, ent.key)
}
