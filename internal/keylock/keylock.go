// Package keylock provides per-key mutual exclusion for booking and
// enrollment operations.
package keylock

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a lock cannot be acquired before the caller's
// context expires.
var ErrBusy = errors.New("key is busy")

// entry wraps a single-slot semaphore with a waiter count so idle keys can
// be evicted without racing a concurrent Acquire.
type entry struct {
	sem     *semaphore.Weighted
	waiters int
}

// Map serializes operations per string key. Operations on different keys
// never block each other; operations on the same key are strictly ordered.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewMap creates an empty lock map.
func NewMap() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Acquire blocks until the key's lock is held or ctx expires. On success it
// returns a release function that must be called exactly once; on context
// expiry it returns ErrBusy. Each operation must acquire exactly one key.
func (m *Map) Acquire(ctx context.Context, key string) (release func(), err error) {
	m.mu.Lock()
	e := m.entries[key]
	if e == nil {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.waiters++
	m.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		m.drop(key, e)
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			m.drop(key, e)
		})
	}, nil
}

// drop decrements the waiter count and evicts the entry once nobody holds
// or waits on it.
func (m *Map) drop(key string, e *entry) {
	m.mu.Lock()
	e.waiters--
	if e.waiters == 0 {
		delete(m.entries, key)
	}
	m.mu.Unlock()
}

// Len reports how many keys currently have a holder or waiter.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
