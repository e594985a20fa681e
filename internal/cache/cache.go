// Package cache provides the bounded LRU+TTL caches used by the inference
// client and the vector store's collection-existence checks.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCapacity bounds each cache. At 1024 floats per dense
	// embedding this keeps a full embedding cache under ~4MB.
	DefaultCapacity = 1000

	// DefaultTTL is how long an entry stays valid. Expired entries
	// read as misses and are evicted.
	DefaultTTL = time.Hour
)

// Cache is a fixed-capacity LRU with per-entry TTL. Reads promote,
// insertion into a full cache evicts the least-recently-used entry.
// Safe for concurrent use.
type Cache[V any] struct {
	lru *expirable.LRU[string, V]
}

// New creates a cache with the given capacity and TTL.
// Non-positive arguments fall back to the defaults.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{lru: expirable.NewLRU[string, V](capacity, nil, ttl)}
}

// Get returns the cached value and whether it was present and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set stores a value under key, evicting the LRU entry if full.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
