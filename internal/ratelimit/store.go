package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowStore owns the per-key timestamp lists.
//
// Update must apply fn atomically for the key: no other Update for the same key
// may observe the list between fn's input and its stored result. Timestamps are
// handed to fn oldest first.
type WindowStore interface {
	Update(ctx context.Context, key string, fn func(timestamps []time.Time) []time.Time) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	Sweep(ctx context.Context, evict func(timestamps []time.Time) bool) (int, error)
}

// WindowAdmitter is implemented by stores that can trim, check and append in
// one server-side step. The limiter prefers it over Update.
type WindowAdmitter interface {
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, maxRequests int) (admitted bool, oldest time.Time, err error)
}

// MemoryStore keeps windows in a process-local map. It never returns errors.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (store *MemoryStore) Update(_ context.Context, key string, fn func([]time.Time) []time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.windows[key] = fn(store.windows[key])
	return nil
}

func (store *MemoryStore) Delete(_ context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	delete(store.windows, key)
	return nil
}

func (store *MemoryStore) Len(_ context.Context) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	return len(store.windows), nil
}

func (store *MemoryStore) Sweep(_ context.Context, evict func([]time.Time) bool) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	evicted := 0
	for key, timestamps := range store.windows {
		if evict(timestamps) {
			delete(store.windows, key)
			evicted++
		}
	}
	return evicted, nil
}
