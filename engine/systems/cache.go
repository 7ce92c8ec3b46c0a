package systems

import (
	"bytes"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Failures  uint64
}

type cacheEntry[V any] struct {
	key       uint64
	canonical []byte
	value     V
}

// ContentCache memoizes GPU objects by the canonical encoding of the
// description they were built from. Entries sharing a 64-bit key live in one
// bucket and are told apart by their canonical bytes.
//
// With a capacity of 0 the cache only grows until Clear. Otherwise the least
// recently used key is evicted and handed to the release callback.
type ContentCache[V any] struct {
	name    string
	entries map[uint64][]*cacheEntry[V]
	lru     *lru.Cache[uint64, []*cacheEntry[V]]
	count   int

	release func(V)
	onEvict func(key uint64, value V)
	// Set while entries leave through Remove or Clear rather than capacity.
	removing bool

	stats CacheStats
}

// NewContentCache builds a cache. release runs for every entry leaving the
// cache; onEvict additionally runs for capacity evictions and may be nil.
func NewContentCache[V any](name string, capacity int, release func(V), onEvict func(key uint64, value V)) (*ContentCache[V], error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%s cache capacity %d: %w", name, capacity, core.ErrInvalidConfig)
	}
	c := &ContentCache[V]{
		name:    name,
		release: release,
		onEvict: onEvict,
	}
	if capacity == 0 {
		c.entries = make(map[uint64][]*cacheEntry[V])
		return c, nil
	}
	l, err := lru.NewWithEvict[uint64, []*cacheEntry[V]](capacity, c.evicted)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *ContentCache[V]) evicted(key uint64, bucket []*cacheEntry[V]) {
	for _, e := range bucket {
		c.discard(e)
	}
}

func (c *ContentCache[V]) discard(e *cacheEntry[V]) {
	c.count--
	if !c.removing {
		c.stats.Evictions++
		core.LogDebug("%s cache evicted %016x", c.name, e.key)
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
	}
	if c.release != nil {
		c.release(e.value)
	}
}

func (c *ContentCache[V]) bucket(key uint64) []*cacheEntry[V] {
	if c.lru != nil {
		b, _ := c.lru.Get(key)
		return b
	}
	return c.entries[key]
}

func (c *ContentCache[V]) store(key uint64, bucket []*cacheEntry[V]) {
	if c.lru != nil {
		c.lru.Add(key, bucket)
		return
	}
	c.entries[key] = bucket
}

func find[V any](bucket []*cacheEntry[V], canonical []byte) int {
	for i, e := range bucket {
		if bytes.Equal(e.canonical, canonical) {
			return i
		}
	}
	return -1
}

// Get returns the value built from canonical, if cached. It does not count
// as a hit or a miss.
func (c *ContentCache[V]) Get(canonical []byte) (V, bool) {
	b := c.bucket(metadata.HashKey(canonical))
	if i := find(b, canonical); i >= 0 {
		return b[i].value, true
	}
	var zero V
	return zero, false
}

// GetOrCreate returns the cached value for canonical or builds it with create.
// A failed create leaves the cache unchanged and wraps ErrCacheConstruction.
func (c *ContentCache[V]) GetOrCreate(canonical []byte, create func(key uint64) (V, error)) (V, bool, error) {
	key := metadata.HashKey(canonical)
	b := c.bucket(key)
	if i := find(b, canonical); i >= 0 {
		c.stats.Hits++
		return b[i].value, true, nil
	}
	c.stats.Misses++

	v, err := create(key)
	if err != nil {
		c.stats.Failures++
		core.LogError("%s cache failed to build %016x: %s", c.name, key, err)
		var zero V
		return zero, false, fmt.Errorf("%s %016x: %w: %w", c.name, key, core.ErrCacheConstruction, err)
	}
	if len(b) > 0 {
		core.LogWarn("%s cache key collision on %016x, %d entries share it", c.name, key, len(b)+1)
	}
	e := &cacheEntry[V]{key: key, canonical: append([]byte(nil), canonical...), value: v}
	c.count++
	// Copy so an evicted bucket slice is never appended to.
	next := make([]*cacheEntry[V], 0, len(b)+1)
	next = append(next, b...)
	c.store(key, append(next, e))
	return v, false, nil
}

// Remove drops and releases the value built from canonical.
func (c *ContentCache[V]) Remove(canonical []byte) bool {
	key := metadata.HashKey(canonical)
	b := c.bucket(key)
	i := find(b, canonical)
	if i < 0 {
		return false
	}
	c.removing = true
	defer func() { c.removing = false }()

	if len(b) == 1 {
		if c.lru != nil {
			c.lru.Remove(key)
		} else {
			delete(c.entries, key)
			c.discard(b[0])
		}
		return true
	}
	removed := b[i]
	next := make([]*cacheEntry[V], 0, len(b)-1)
	next = append(next, b[:i]...)
	next = append(next, b[i+1:]...)
	c.store(key, next)
	c.discard(removed)
	return true
}

// Clear releases every entry.
func (c *ContentCache[V]) Clear() {
	c.removing = true
	defer func() { c.removing = false }()

	if c.lru != nil {
		c.lru.Purge()
		return
	}
	for key, b := range c.entries {
		delete(c.entries, key)
		for _, e := range b {
			c.discard(e)
		}
	}
}

// Values returns every cached value. Order is unspecified.
func (c *ContentCache[V]) Values() []V {
	out := make([]V, 0, c.count)
	if c.lru != nil {
		for _, b := range c.lru.Values() {
			for _, e := range b {
				out = append(out, e.value)
			}
		}
		return out
	}
	for _, b := range c.entries {
		for _, e := range b {
			out = append(out, e.value)
		}
	}
	return out
}

func (c *ContentCache[V]) Len() int {
	return c.count
}

func (c *ContentCache[V]) Stats() CacheStats {
	return c.stats
}
