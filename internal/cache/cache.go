// Package cache provides a TTL-LRU over expensive lookups (key listings,
// directory-exists checks), with per-namespace hit/miss metrics.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agevault/agevault/internal/util"
)

// Well-known namespaces. Key-list mutations must invalidate NamespaceKeyList.
const (
	NamespaceKeyList = "key-list"
	NamespaceDirs    = "dirs"
)

// DefaultCapacity is the per-namespace entry cap.
const DefaultCapacity = 256

// Metrics is a snapshot of cache effectiveness counters.
type Metrics struct {
	Hits          map[string]uint64
	Misses        map[string]uint64
	Invalidations uint64
}

type namespace struct {
	lru *expirable.LRU[string, any]
	ttl time.Duration
}

// Cache is a namespaced TTL-LRU. Each namespace has its own TTL and capacity;
// entries expire individually based on insertion time. All methods are safe
// for concurrent use and degrade to cache-miss rather than failing the caller.
type Cache struct {
	mu            sync.RWMutex
	namespaces    map[string]*namespace
	hits          map[string]uint64
	misses        map[string]uint64
	invalidations uint64
}

// New creates a cache with the standard namespaces registered: key listings
// at the key-cache TTL, directory checks at the shorter directory TTL.
func New() *Cache {
	c := &Cache{
		namespaces: make(map[string]*namespace),
		hits:       make(map[string]uint64),
		misses:     make(map[string]uint64),
	}
	c.Register(NamespaceKeyList, util.KeyCacheTTL, DefaultCapacity)
	c.Register(NamespaceDirs, util.DirCacheTTL, DefaultCapacity)
	return c
}

// Register adds a namespace with its own TTL and capacity. Re-registering
// replaces the namespace and drops its entries.
func (c *Cache) Register(name string, ttl time.Duration, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaces[name] = &namespace{
		lru: expirable.NewLRU[string, any](capacity, nil, ttl),
		ttl: ttl,
	}
}

// Get returns the cached value for key in the namespace. An unknown namespace
// or an expired entry is a miss.
func (c *Cache) Get(ns, key string) (any, bool) {
	c.mu.RLock()
	n := c.namespaces[ns]
	c.mu.RUnlock()

	if n == nil {
		c.countMiss(ns)
		return nil, false
	}
	value, ok := n.lru.Get(key)
	if !ok {
		c.countMiss(ns)
		return nil, false
	}
	c.countHit(ns)
	return value, true
}

// Put stores a value under the namespace's TTL. Unknown namespaces are
// silently ignored so callers never fail on cache trouble.
func (c *Cache) Put(ns, key string, value any) {
	c.mu.RLock()
	n := c.namespaces[ns]
	c.mu.RUnlock()
	if n == nil {
		return
	}
	n.lru.Add(key, value)
}

// Invalidate drops every entry in a namespace.
func (c *Cache) Invalidate(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.namespaces[ns]
	if n == nil {
		return
	}
	n.lru.Purge()
	c.invalidations++
}

// InvalidateKey drops a single entry.
func (c *Cache) InvalidateKey(ns, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.namespaces[ns]
	if n == nil {
		return
	}
	n.lru.Remove(key)
	c.invalidations++
}

// Clear drops every entry in every namespace.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.namespaces {
		n.lru.Purge()
	}
	c.invalidations++
}

// MetricsSnapshot returns a copy of the current counters.
func (c *Cache) MetricsSnapshot() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := Metrics{
		Hits:          make(map[string]uint64, len(c.hits)),
		Misses:        make(map[string]uint64, len(c.misses)),
		Invalidations: c.invalidations,
	}
	for k, v := range c.hits {
		m.Hits[k] = v
	}
	for k, v := range c.misses {
		m.Misses[k] = v
	}
	return m
}

func (c *Cache) countHit(ns string) {
	c.mu.Lock()
	c.hits[ns]++
	c.mu.Unlock()
}

func (c *Cache) countMiss(ns string) {
	c.mu.Lock()
	c.misses[ns]++
	c.mu.Unlock()
}
