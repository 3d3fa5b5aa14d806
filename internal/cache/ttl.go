// Package cache provides a small bounded TTL cache. It is handed to the
// components that need one rather than held as package state, so tests can
// drive staleness deterministically through the injected clock.
package cache

import (
	"sync"
	"time"
)

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 256
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a string-keyed cache with per-cache time-to-live and inline
// pruning of expired entries.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V])

// WithClock overrides the cache's clock.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) { c.now = now }
}

// WithMaxSize caps the number of live entries; inserts past the cap evict
// the entry closest to expiry.
func WithMaxSize[V any](n int) Option[V] {
	return func(c *TTL[V]) { c.maxSize = n }
}

// NewTTL creates a cache whose entries live for ttl.
func NewTTL[V any](ttl time.Duration, opts ...Option[V]) *TTL[V] {
	c := &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		maxSize: 4096,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key, if any.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, pruning expired entries when the map grows
// past cleanupThreshold and evicting the soonest-to-expire entry at the
// size cap.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) > cleanupThreshold {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		var (
			oldestKey string
			oldest    time.Time
			first     = true
		)
		for k, e := range c.entries {
			if first || e.expiresAt.Before(oldest) {
				oldestKey, oldest, first = k, e.expiresAt, false
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// Len returns the number of stored entries, expired ones included until the
// next pruning pass touches them.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
