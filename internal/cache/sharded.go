package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// DefaultShardCount is the shard count used when none is configured.
	DefaultShardCount = 16

	// DefaultCapacity is the total entry limit used when capacity <= 0.
	DefaultCapacity = 64
)

// Hasher computes the shard-selection hash of a key.
type Hasher[K any] func(K) uint64

// StringHasher computes the FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// Uint64Hasher returns the key itself.
func Uint64Hasher(u uint64) uint64 {
	return u
}

// EvictFunc is called for every entry that leaves the cache through
// capacity eviction, Delete or Clear. It runs without any shard lock held.
type EvictFunc[K comparable, V any] func(key K, value V)

// Option configures a ShardedCache.
type Option[K comparable, V any] func(*ShardedCache[K, V])

// WithShards sets the shard count. n is rounded up to a power of two.
func WithShards[K comparable, V any](n int) Option[K, V] {
	return func(c *ShardedCache[K, V]) {
		shards := 1
		for shards < n {
			shards <<= 1
		}
		c.shards = make([]*shard[K, V], shards)
	}
}

// WithEvict installs a callback for entries that leave the cache.
func WithEvict[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(c *ShardedCache[K, V]) {
		c.onEvict = fn
	}
}

// ShardedCache is a thread-safe LRU cache split into independently locked
// shards. Each shard holds at most ceil(capacity/shards) entries.
//
// ShardedCache must not be copied after creation.
type ShardedCache[K comparable, V any] struct {
	shards   []*shard[K, V]
	mask     uint64
	hasher   Hasher[K]
	perShard int
	onEvict  EvictFunc[K, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	lru     *lruList[K]
}

type entry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// NewSharded creates a cache holding about capacity entries in total.
// If capacity <= 0, DefaultCapacity is used.
func NewSharded[K comparable, V any](capacity int, hasher Hasher[K], opts ...Option[K, V]) *ShardedCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ShardedCache[K, V]{hasher: hasher}
	for _, opt := range opts {
		opt(c)
	}
	if c.shards == nil {
		c.shards = make([]*shard[K, V], DefaultShardCount)
	}
	c.mask = uint64(len(c.shards) - 1)
	c.perShard = (capacity + len(c.shards) - 1) / len(c.shards)
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*entry[K, V]),
			lru:     newLRUList[K](),
		}
	}
	return c
}

func (c *ShardedCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&c.mask]
}

// Get returns the cached value for key and marks it most recently used.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.Touch(e.node)
	v := e.value
	s.mu.Unlock()
	c.hits.Add(1)
	return v, true
}

// Set stores value under key, evicting least recently used entries of the
// shard when it is full. Replacing an existing value evicts the old one.
func (c *ShardedCache[K, V]) Set(key K, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	var out []evicted[K, V]
	if e, ok := s.entries[key]; ok {
		out = append(out, evicted[K, V]{key, e.value})
		e.value = value
		s.lru.Touch(e.node)
	} else {
		out = c.makeRoom(s, out)
		s.entries[key] = &entry[K, V]{value: value, node: s.lru.PushFront(key)}
	}
	s.mu.Unlock()
	c.notify(out)
}

// GetOrCreate returns the cached value or stores the result of create.
// create runs under the shard lock and must be quick; expensive work
// belongs outside the cache.
func (c *ShardedCache[K, V]) GetOrCreate(key K, create func() V) V {
	s := c.shardFor(key)
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.lru.Touch(e.node)
		v := e.value
		s.mu.Unlock()
		c.hits.Add(1)
		return v
	}
	c.misses.Add(1)
	v := create()
	out := c.makeRoom(s, nil)
	s.entries[key] = &entry[K, V]{value: v, node: s.lru.PushFront(key)}
	s.mu.Unlock()
	c.notify(out)
	return v
}

// Delete removes key. It reports whether an entry was removed.
func (c *ShardedCache[K, V]) Delete(key K) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		s.lru.Remove(e.node)
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if ok {
		c.notify([]evicted[K, V]{{key, e.value}})
	}
	return ok
}

// Clear removes every entry, invoking the evict callback for each.
func (c *ShardedCache[K, V]) Clear() {
	var out []evicted[K, V]
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			out = append(out, evicted[K, V]{k, e.value})
		}
		s.entries = make(map[K]*entry[K, V])
		s.lru.Reset()
		s.mu.Unlock()
	}
	c.notify(out)
}

// Len returns the number of entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Capacity returns the total entry limit.
func (c *ShardedCache[K, V]) Capacity() int {
	return c.perShard * len(c.shards)
}

// Stats returns a snapshot of the cache counters.
func (c *ShardedCache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Len:       c.Len(),
		Capacity:  c.Capacity(),
		Hits:      hits,
		Misses:    misses,
		HitRate:   rate,
		Evictions: c.evictions.Load(),
	}
}

func (c *ShardedCache[K, V]) makeRoom(s *shard[K, V], out []evicted[K, V]) []evicted[K, V] {
	for s.lru.Len() >= c.perShard {
		k, ok := s.lru.PopOldest()
		if !ok {
			break
		}
		out = append(out, evicted[K, V]{k, s.entries[k].value})
		delete(s.entries, k)
		c.evictions.Add(1)
	}
	return out
}

func (c *ShardedCache[K, V]) notify(out []evicted[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range out {
		c.onEvict(e.key, e.value)
	}
}

// Stats holds cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the total entry limit.
	Capacity int
	// Hits is the number of lookups that found an entry.
	Hits uint64
	// Misses is the number of lookups that did not.
	Misses uint64
	// HitRate is Hits/(Hits+Misses), or 0 before any lookup.
	HitRate float64
	// Evictions counts entries dropped to make room.
	Evictions uint64
}
