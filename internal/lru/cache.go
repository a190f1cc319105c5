// Package lru implements a generic, thread-safe LRU cache with optional
// per-cache TTL. It backs the remote conversation client cache.
//
// A hash map gives O(1) key lookup; a doubly linked list between two
// sentinels keeps recency order for O(1) eviction.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time
	prev      *node[K, V]
	next      *node[K, V]
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	onEvict  func(K, V)
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used side (sentinel)
	tail     *node[K, V] // least recently used side (sentinel)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL expires entries d after their last Put.
func WithTTL[K comparable, V any](d time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = d }
}

// WithOnEvict registers a callback run (outside the lock) for entries removed
// by capacity pressure or expiry. Explicit Delete does not trigger it.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// WithClock overrides the clock used for TTL checks.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	n, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	if c.expired(n) {
		c.unlink(n)
		c.mu.Unlock()
		c.evicted(n)
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	val := n.val
	c.mu.Unlock()
	return val, true
}

// Put inserts or updates a value, evicting the least recently used entry
// when the cache is full.
func (c *Cache[K, V]) Put(key K, val V) {
	c.mu.Lock()
	if n, ok := c.items[key]; ok {
		n.val = val
		n.expiresAt = c.deadline()
		c.moveToFront(n)
		c.mu.Unlock()
		return
	}

	var victim *node[K, V]
	if len(c.items) >= c.capacity {
		victim = c.tail.prev
		c.unlink(victim)
	}

	n := &node[K, V]{key: key, val: val, expiresAt: c.deadline()}
	c.items[key] = n
	c.pushFront(n)
	c.mu.Unlock()

	if victim != nil {
		c.evicted(victim)
	}
}

// GetOrCreate returns the cached value for key, building and caching it
// with create on a miss.
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := create()
	c.Put(key, v)
	return v
}

// Delete removes a key. Returns true if the key existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	return true
}

// Len returns the number of entries, including ones not yet lazily expired.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns live keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		if !c.expired(cur) {
			keys = append(keys, cur.key)
		}
	}
	return keys
}

// --- list operations (caller holds the lock) ---

func (c *Cache[K, V]) deadline() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *Cache[K, V]) expired(n *node[K, V]) bool {
	return !n.expiresAt.IsZero() && !c.now().Before(n.expiresAt)
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	delete(c.items, n.key)
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	c.pushFront(n)
}

func (c *Cache[K, V]) evicted(n *node[K, V]) {
	if c.onEvict != nil {
		c.onEvict(n.key, n.val)
	}
}
