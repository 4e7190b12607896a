// Package cache implements a keyed TTL store with negative-result entries.
// Entries carry their own TTL, chosen by the caller on every Put, and are
// bounded by an LRU so correspondents that never return cannot grow memory
// without limit. A background reaper drops expired entries on a fixed period.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"whatsapp-agent/internal/clock"
	"whatsapp-agent/internal/metrics"
)

const (
	DefaultMaxEntries    = 10000
	DefaultSweepInterval = 10 * time.Minute
)

// Entry is the result of a successful lookup. Negative is true when the
// cached outcome is "no such record"; Value is then the zero value.
type Entry[V any] struct {
	Value    V
	Negative bool
	StoredAt time.Time
}

type item[V any] struct {
	value    V
	negative bool
	storedAt time.Time
	ttl      time.Duration
}

func (it item[V]) expired(now time.Time) bool {
	return now.Sub(it.storedAt) >= it.ttl
}

type options struct {
	maxEntries    int
	sweepInterval time.Duration
	clock         clock.Clock
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

type Option func(*options)

func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	name          string
	mu            sync.Mutex
	entries       *lru.Cache[K, item[V]]
	clock         clock.Clock
	sweepInterval time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates an empty cache. name labels log lines and metrics.
func New[K comparable, V any](name string, opts ...Option) (*Cache[K, V], error) {
	if name == "" {
		return nil, errors.New("cache: name must not be empty")
	}
	o := options{maxEntries: DefaultMaxEntries, sweepInterval: DefaultSweepInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEntries <= 0 {
		o.maxEntries = DefaultMaxEntries
	}
	if o.sweepInterval <= 0 {
		o.sweepInterval = DefaultSweepInterval
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	entries, err := lru.New[K, item[V]](o.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: init %s store: %w", name, err)
	}
	return &Cache[K, V]{
		name:          name,
		entries:       entries,
		clock:         clock.OrReal(o.clock),
		sweepInterval: o.sweepInterval,
		metrics:       o.metrics,
		logger:        o.logger.With("component", "cache", "cache", name),
	}, nil
}

// Get returns the live entry for key. An expired entry behaves as a miss and
// is dropped on the spot.
func (c *Cache[K, V]) Get(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.entries.Get(key)
	if !ok {
		c.metrics.CacheLookup(c.name, metrics.ResultMiss)
		return Entry[V]{}, false
	}
	if it.expired(c.clock.Now()) {
		c.entries.Remove(key)
		c.metrics.CacheLookup(c.name, metrics.ResultMiss)
		return Entry[V]{}, false
	}
	if it.negative {
		c.metrics.CacheLookup(c.name, metrics.ResultNegative)
	} else {
		c.metrics.CacheLookup(c.name, metrics.ResultHit)
	}
	return Entry[V]{Value: it.value, Negative: it.negative, StoredAt: it.storedAt}, true
}

// Peek is Get without recording a lookup or touching recency.
func (c *Cache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.entries.Peek(key)
	if !ok || it.expired(c.clock.Now()) {
		return Entry[V]{}, false
	}
	return Entry[V]{Value: it.value, Negative: it.negative, StoredAt: it.storedAt}, true
}

// Put stores value under key for ttl. A non-positive ttl removes the key.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.store(key, item[V]{value: value, ttl: ttl})
}

// PutNegative records that key has no value, for ttl.
func (c *Cache[K, V]) PutNegative(key K, ttl time.Duration) {
	c.store(key, item[V]{negative: true, ttl: ttl})
}

func (c *Cache[K, V]) store(key K, it item[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it.ttl <= 0 {
		c.entries.Remove(key)
		return
	}
	it.storedAt = c.clock.Now()
	c.entries.Add(key, it)
}

// Invalidate drops key and reports whether it was present.
func (c *Cache[K, V]) Invalidate(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.entries.Remove(key)
	if removed {
		c.logger.Debug("cache entry invalidated", "key", key)
	}
	return removed
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
	c.logger.Info("cache cleared")
}

// Len counts stored entries, including expired ones not yet reaped.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for _, key := range c.entries.Keys() {
		it, ok := c.entries.Peek(key)
		if ok && it.expired(now) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

// Start launches the reaper. Calling Start on a running cache is a no-op.
func (c *Cache[K, V]) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	reapCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.reap(reapCtx, c.done)
}

// Stop halts the reaper and waits for it to exit.
func (c *Cache[K, V]) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	cancel()
	<-done
}

func (c *Cache[K, V]) IsRunning() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.running
}

func (c *Cache[K, V]) reap(ctx context.Context, done chan struct{}) {
	defer func() {
		c.runMu.Lock()
		c.running = false
		c.runMu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	c.logger.Info("cache reaper started", "interval", c.sweepInterval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cache reaper stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Info("expired cache entries removed", "removed", removed, "remaining", c.Len())
			}
		}
	}
}
