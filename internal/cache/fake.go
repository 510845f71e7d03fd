package cache

import (
	"context"
	"sync"
	"time"
)

// FakeCache is an in-memory Cache for tests; no expiry sweeping, expiry is
// checked lazily on Get/SetIfAbsent exactly like SQLiteStore.
type FakeCache struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func NewFakeCache() *FakeCache {
	return &FakeCache{entries: make(map[string]fakeEntry)}
}

func (f *FakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(f.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (f *FakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.entries[key] = fakeEntry{value: value, expiresAt: exp}
	return nil
}

func (f *FakeCache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok && (e.expiresAt.IsZero() || time.Now().Before(e.expiresAt)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	f.entries[key] = fakeEntry{value: value, expiresAt: exp}
	return true, nil
}

func (f *FakeCache) Close() error { return nil }

var _ Cache = (*FakeCache)(nil)
var _ Cache = (*SQLiteStore)(nil)
var _ Cache = (*HTTPCache)(nil)
