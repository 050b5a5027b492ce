package cache

import (
	"hash/maphash"
	"sync"
	"time"
)

const shardCount = 32

// Cache is a bounded-lifetime key/value store safe for concurrent use.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	// Update runs fn under the key's shard lock so read-modify-write cycles
	// are atomic per key. Returning keep=false removes the entry.
	Update(key K, ttl time.Duration, fn func(current V, exists bool) (next V, keep bool)) V
	Sweep() int
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]entry[V]
}

type ttlCache[K comparable, V any] struct {
	seed   maphash.Seed
	now    func() time.Time
	shards [shardCount]*shard[K, V]
}

// NewTTLCache returns a sharded in-memory cache. Expired entries are invisible
// to readers immediately and reclaimed by Sweep.
func NewTTLCache[K comparable, V any]() Cache[K, V] {
	return NewTTLCacheWithClock[K, V](func() time.Time { return time.Now().UTC() })
}

func NewTTLCacheWithClock[K comparable, V any](now func() time.Time) Cache[K, V] {
	c := &ttlCache[K, V]{seed: maphash.MakeSeed(), now: now}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{items: make(map[K]entry[V])}
	}
	return c
}

func (c *ttlCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[maphash.Comparable(c.seed, key)%shardCount]
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	e, ok := s.items[key]
	if !ok {
		return zero, false
	}
	if c.expired(e) {
		delete(s.items, key)
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: c.expiry(ttl)}
	s.mu.Unlock()
}

func (c *ttlCache[K, V]) Delete(key K) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

func (c *ttlCache[K, V]) Update(key K, ttl time.Duration, fn func(current V, exists bool) (V, bool)) V {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.items[key]
	if exists && c.expired(current) {
		exists = false
		current = entry[V]{}
	}
	next, keep := fn(current.value, exists)
	if !keep {
		delete(s.items, key)
		return next
	}
	s.items[key] = entry[V]{value: next, expiresAt: c.expiry(ttl)}
	return next
}

func (c *ttlCache[K, V]) Sweep() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.items {
			if c.expired(e) {
				delete(s.items, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *ttlCache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

func (c *ttlCache[K, V]) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *ttlCache[K, V]) expired(e entry[V]) bool {
	if e.expiresAt.IsZero() {
		return false
	}
	return !c.now().Before(e.expiresAt)
}
