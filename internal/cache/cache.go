package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	// DefaultEntrySize is charged against MaxBytes when a value's size cannot be estimated.
	DefaultEntrySize = 256
	// DefaultMaxEntries applies when Config.MaxEntries is not positive.
	DefaultMaxEntries = 1024
)

// Config controls capacity, expiry sweeping and size accounting.
type Config struct {
	MaxEntries      int
	MaxBytes        int64
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	SizeOf          func(value any) (int, error)
	Now             func() time.Time
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
	Size        int
	Bytes       int64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
	size      int64
}

// Cache is a TTL + LRU map safe for concurrent use.
//
// Expired entries are never returned by Get, even before a sweep removes them.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	cfg       Config
	items     map[K]*list.Element
	order     *list.List
	bytes     int64
	lastSweep time.Time
	stats     Stats

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds an empty cache.
func New[K comparable, V any](cfg Config) *Cache[K, V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache[K, V]{
		cfg:       cfg,
		items:     make(map[K]*list.Element, cfg.MaxEntries),
		order:     list.New(),
		lastSweep: cfg.Now(),
		stop:      make(chan struct{}),
	}
}

// Set stores value under key. A non-positive ttl falls back to Config.DefaultTTL;
// when both are zero the entry never expires.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()
	c.maybeSweepLocked(now)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	size := c.estimate(value)

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		c.bytes += size - e.size
		e.value = value
		e.expiresAt = expiresAt
		e.size = size
		c.order.MoveToFront(el)
	} else {
		e := &entry[K, V]{key: key, value: value, expiresAt: expiresAt, size: size}
		c.items[key] = c.order.PushFront(e)
		c.bytes += size
	}

	for c.order.Len() > c.cfg.MaxEntries {
		c.evictOldestLocked()
	}
	if c.cfg.MaxBytes > 0 {
		// Never evict the entry just written.
		for c.bytes > c.cfg.MaxBytes && c.order.Len() > 1 {
			c.evictOldestLocked()
		}
	}
}

// Get returns the live value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Now()
	c.maybeSweepLocked(now)

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if e.expired(now) {
		c.removeLocked(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Delete removes key and reports whether a live entry was present.
func (c *Cache[K, V]) Delete(key K) bool {
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	live := !el.Value.(*entry[K, V]).expired(c.cfg.Now())
	c.removeLocked(el)
	return live
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a copy of the counters.
func (c *Cache[K, V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	s.Bytes = c.bytes
	return s
}

// Purge drops every entry. Counters are kept.
func (c *Cache[K, V]) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element, c.cfg.MaxEntries)
	c.order.Init()
	c.bytes = 0
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.cfg.Now())
}

// StartJanitor sweeps every CleanupInterval until ctx is done or Close is called.
func (c *Cache[K, V]) StartJanitor(ctx context.Context) {
	if c == nil || c.cfg.CleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the janitor, if any.
func (c *Cache[K, V]) Close() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) maybeSweepLocked(now time.Time) {
	if c.cfg.CleanupInterval <= 0 {
		return
	}
	if now.Sub(c.lastSweep) < c.cfg.CleanupInterval {
		return
	}
	c.sweepLocked(now)
}

func (c *Cache[K, V]) sweepLocked(now time.Time) int {
	c.lastSweep = now
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[K, V]).expired(now) {
			c.removeLocked(el)
			c.stats.Expirations++
			removed++
		}
		el = prev
	}
	return removed
}

func (c *Cache[K, V]) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	c.removeLocked(el)
	c.stats.Evictions++
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, e.key)
	c.bytes -= e.size
}

func (c *Cache[K, V]) estimate(value V) int64 {
	if c.cfg.SizeOf == nil {
		return DefaultEntrySize
	}
	n, err := safeSize(c.cfg.SizeOf, value)
	if err != nil || n <= 0 {
		return DefaultEntrySize
	}
	return int64(n)
}

func safeSize(fn func(any) (int, error), value any) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, errSizeEstimate
		}
	}()
	return fn(value)
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
