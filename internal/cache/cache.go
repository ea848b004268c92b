// Package cache memoizes model outputs. Entries expire a fixed TTL after
// insertion and, when the cache is full, the least recently accessed live
// entry is evicted first.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

type Clock func() time.Time

type Config struct {
	MaxSize int
	TTL     time.Duration
}

type Option func(*options)

type options struct {
	now     Clock
	observe func(hit bool)
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithObserver registers a callback invoked on every Get with the outcome.
func WithObserver(fn func(hit bool)) Option {
	return func(o *options) {
		o.observe = fn
	}
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

type Cache[V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *entry[V]]
	size    int
	ttl     time.Duration
	now     Clock
	observe func(hit bool)
	group   singleflight.Group
}

func New[V any](cfg Config, opts ...Option) (*Cache[V], error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("cache max size must be positive, got %d", cfg.MaxSize)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", cfg.TTL)
	}
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	lru, err := simplelru.NewLRU[string, *entry[V]](cfg.MaxSize, nil)
	if err != nil {
		return nil, err
	}
	return &Cache[V]{
		lru:     lru,
		size:    cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     o.now,
		observe: o.observe,
	}, nil
}

// Get returns the live value for key. An expired entry is removed and
// reported as a miss. A hit refreshes the entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok := c.getLocked(key)
	c.mu.Unlock()
	if c.observe != nil {
		c.observe(ok)
	}
	return v, ok
}

func (c *Cache[V]) getLocked(key string) (V, bool) {
	var zero V
	e, ok := c.lru.Peek(key)
	if !ok {
		return zero, false
	}
	if c.expired(e, c.now()) {
		c.lru.Remove(key)
		return zero, false
	}
	c.lru.Get(key)
	return e.value, true
}

// Set stores value under key, restarting its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.lru.Contains(key) && c.lru.Len() >= c.size {
		c.purgeExpiredLocked(now)
	}
	c.lru.Add(key, &entry[V]{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(c.ttl),
	})
}

func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Len reports stored entries; expired ones count until they are purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Do returns the cached value for key or loads it. Concurrent callers that
// miss on the same key share one load. Failed loads are not cached. A caller
// whose ctx ends stops waiting; the shared load keeps running for the others
// and is bounded by the loader's own timeouts.
func (c *Cache[V]) Do(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, bool, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		c.mu.Lock()
		v, ok := c.getLocked(key)
		c.mu.Unlock()
		if ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		v, _ := res.Val.(V)
		return v, false, nil
	}
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return !now.Before(e.expiresAt)
}

func (c *Cache[V]) purgeExpiredLocked(now time.Time) {
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && c.expired(e, now) {
			c.lru.Remove(key)
		}
	}
}
