// Package cache provides the copy-on-write caches shared by every compilation.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
)

// DefaultMaxEntries bounds a cache unless configured otherwise.
const DefaultMaxEntries = 512

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Size      int
	MaxSize   int
	Evictions int64
	HitRate   float64
}

// generation is an immutable snapshot. order lists keys by insertion, oldest first.
type generation[V any] struct {
	entries map[string]V
	order   []string
}

// Generational is a bounded map that readers consult without locking. Writers copy the
// current snapshot, add their entry and publish the copy with compare-and-swap; a writer that
// loses the race retries against the newer snapshot, so no concurrent insert is dropped.
//
// When an insert would exceed the bound, the most recently inserted third is carried into
// the new snapshot together with the new entry and the rest is discarded.
type Generational[V any] struct {
	current atomic.Pointer[generation[V]]
	max     int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache holding at most maxEntries values. Values below 3 use DefaultMaxEntries.
func New[V any](maxEntries int) *Generational[V] {
	if maxEntries < 3 {
		maxEntries = DefaultMaxEntries
	}
	c := &Generational[V]{max: maxEntries}
	c.current.Store(&generation[V]{entries: map[string]V{}})
	return c
}

// Get retrieves a value from the cache
func (c *Generational[V]) Get(key string) (V, bool) {
	v, ok := c.current.Load().entries[key]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set publishes value under key. An existing entry for key is kept; a plan computed twice by
// racing callers is equivalent, so the first publication wins.
func (c *Generational[V]) Set(key string, value V) V {
	for {
		old := c.current.Load()
		if existing, ok := old.entries[key]; ok {
			return existing
		}
		next, evicted := c.grow(old, key, value)
		if c.current.CompareAndSwap(old, next) {
			c.evictions.Add(int64(evicted))
			return value
		}
	}
}

func (c *Generational[V]) grow(old *generation[V], key string, value V) (*generation[V], int) {
	keep := old.order
	evicted := 0
	if len(keep)+1 > c.max {
		n := c.max / 3
		evicted = len(keep) - n
		keep = keep[len(keep)-n:]
	}
	next := &generation[V]{
		entries: make(map[string]V, len(keep)+1),
		order:   make([]string, 0, len(keep)+1),
	}
	for _, k := range keep {
		next.entries[k] = old.entries[k]
		next.order = append(next.order, k)
	}
	next.entries[key] = value
	next.order = append(next.order, key)
	return next, evicted
}

// GetOrAdd returns the cached value for key, computing and publishing it on a miss. compute
// may run more than once when callers race on the same key; only one result is kept.
func (c *Generational[V]) GetOrAdd(key string, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	return c.Set(key, v), nil
}

// Len reports the number of entries in the current snapshot.
func (c *Generational[V]) Len() int {
	return len(c.current.Load().entries)
}

// Clear drops every entry. Counters are kept.
func (c *Generational[V]) Clear() {
	c.current.Store(&generation[V]{entries: map[string]V{}})
}

// Stats returns cache statistics
func (c *Generational[V]) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Size:      c.Len(),
		MaxSize:   c.max,
		Evictions: c.evictions.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

// Key hashes the parts of a cache key into a fixed-width string.
func Key(parts ...string) string {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
