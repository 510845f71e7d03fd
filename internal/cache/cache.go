// Package cache provides the best-effort key/value store the Rule Engine
// uses for latch persistence, log/error records, and the reboot debounce
// key. It is fronted by an external KV interface with a local SQLite
// fallback so a rule latch still survives a restart even with no external
// cache configured.
package cache

import (
	"context"
	"time"
)

// Cache is the key/value contract every component in this package and
// internal/rules depends on. All operations are expiry-aware: a Get past
// its TTL behaves as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent writes value only if key is unset or expired, returning
	// true if the write happened. Used for the reboot debounce key.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Close() error
}

// Fallback wraps a primary Cache (the external store) with a local one: on
// a primary operation failure the primary's error is discarded and the
// operation is served from local instead, keeping latch/debounce semantics alive when the external cache
// is unreachable, matching §4.5's "best-effort... with local fallback".
type Fallback struct {
	Primary *HTTPCache
	Local   *SQLiteStore
}

func (f *Fallback) Get(ctx context.Context, key string) (string, bool, error) {
	if f.Primary != nil {
		if v, ok, err := f.Primary.Get(ctx, key); err == nil {
			return v, ok, nil
		}
	}
	return f.Local.Get(ctx, key)
}

func (f *Fallback) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.Primary != nil {
		if err := f.Primary.Set(ctx, key, value, ttl); err == nil {
			return nil
		}
	}
	return f.Local.Set(ctx, key, value, ttl)
}

func (f *Fallback) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.Primary != nil {
		if ok, err := f.Primary.SetIfAbsent(ctx, key, value, ttl); err == nil {
			return ok, nil
		}
	}
	return f.Local.SetIfAbsent(ctx, key, value, ttl)
}

func (f *Fallback) Close() error {
	if f.Primary != nil {
		_ = f.Primary.Close()
	}
	return f.Local.Close()
}
