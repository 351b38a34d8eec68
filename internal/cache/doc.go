// Package cache provides a generic sharded LRU cache.
//
// The fractal engine keeps compiled GPU programs in a ShardedCache keyed by
// the program-affecting options of a request. An eviction callback lets the
// owner release device resources when an entry leaves the cache:
//
//	c := cache.NewSharded[uint64, *program](64, cache.Uint64Hasher,
//		cache.WithEvict[uint64, *program](func(_ uint64, p *program) { p.release() }))
//
// ShardedCache is safe for concurrent use and must not be copied.
package cache
