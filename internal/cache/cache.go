// Package cache provides a small read-through cache for process-wide
// credentials (JWKS key material, broker service tokens). Values carry their
// own expiry; a miss or an expired entry triggers a refresh through the
// caller's fetch function. Concurrent refreshes of the same key are
// collapsed with singleflight, but a duplicate refresh would be harmless:
// the cached value is only ever replaced wholesale.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads a fresh value and reports when it stops being usable.
type FetchFunc[V any] func(ctx context.Context) (V, time.Time, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a keyed get-or-refresh cache. The zero value is not usable;
// construct with New.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group

	// nowFunc returns the current time. Tests override it.
	nowFunc func() time.Time
}

// New creates an empty cache. A nil now uses time.Now.
func New[V any](now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}

	return &Cache[V]{
		entries: make(map[string]entry[V]),
		nowFunc: now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.nowFunc().Before(e.expiresAt) {
		var zero V
		return zero, false
	}

	return e.value, true
}

// GetOrRefresh returns the cached value for key, calling fetch when the
// entry is missing or expired.
func (c *Cache[V]) GetOrRefresh(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	return c.Refresh(ctx, key, fetch)
}

// Refresh unconditionally fetches a new value for key and stores it.
// Callers use it to force a reload after a lookup inside the cached value
// failed (e.g. an unknown key ID in a JWKS).
//
// The shared fetch runs detached from ctx cancellation: one caller giving
// up must not fail the others waiting on the same key. Fetch functions
// bound themselves with their HTTP client timeout.
func (c *Cache[V]) Refresh(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	fetchCtx := context.WithoutCancel(ctx)

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, expiresAt, fetchErr := fetch(fetchCtx)
		if fetchErr != nil {
			return nil, fetchErr
		}

		c.mu.Lock()
		c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
		c.mu.Unlock()

		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	v, _ := res.(V)

	return v, nil
}

// Invalidate drops the entry for key.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
