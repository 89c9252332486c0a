// Package cache provides a small TTL cache with single-flight load
// collapsing, used wherever a component needs to memoize an expensive
// lookup keyed by a string without pulling in a generic LRU library.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures entry lifetime and size bounds.
type Options struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	MaxEntries  int
}

// MetricsHooks lets callers observe cache behavior without this package
// depending on any particular metrics library.
type MetricsHooks struct {
	OnHit  func(key string)
	OnMiss func(key string)
}

type entry struct {
	value     any
	err       error
	negative  bool
	expiresAt time.Time
}

// Cache is a string-keyed TTL cache safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	order   []string
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
}

// New creates a Cache with the given options and optional metrics hooks.
func New(opts Options, hooks MetricsHooks) *Cache {
	return &Cache{
		items:   make(map[string]*entry),
		order:   make([]string, 0, 64),
		opts:    opts,
		metrics: hooks,
	}
}

// Loader produces the value for a cache miss. ok=false with a nil err means
// "not found"; the result may still be cached negatively if NegativeTTL > 0.
type Loader func(ctx context.Context, key string) (value any, ok bool, err error)

// Get returns the cached value for key, invoking loader at most once per
// miss even under concurrent callers (via singleflight).
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (any, bool, error) {
	if v, ok := c.peekFresh(key); ok {
		if c.metrics.OnHit != nil {
			c.metrics.OnHit(key)
		}
		return v.value, !v.negative, v.err
	}
	if c.metrics.OnMiss != nil {
		c.metrics.OnMiss(key)
	}
	type result struct {
		val any
		ok  bool
		err error
	}
	r, _, _ := c.sf.Do(key, func() (any, error) {
		val, ok, err := loader(ctx, key)
		c.store(key, val, ok, err)
		return result{val, ok, err}, nil
	})
	res := r.(result)
	return res.val, res.ok, res.err
}

func (c *Cache) peekFresh(key string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e, true
}

func (c *Cache) store(key string, val any, ok bool, err error) {
	now := time.Now()
	e := &entry{value: val, err: err}
	switch {
	case ok:
		e.expiresAt = now.Add(c.opts.TTL)
	case c.opts.NegativeTTL > 0:
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
	default:
		return // not found, and negative caching disabled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
}

func (c *Cache) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

// Delete removes key from the cache, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len reports the current entry count, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
