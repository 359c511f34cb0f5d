package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped lazily on
// read and in bulk by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]entry
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]map[string]entry{}, now: time.Now}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, identity, path string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[identity][path]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[identity][path]; ok && cur.expires.Equal(e.expires) {
			m.deleteLocked(identity, path)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, identity, path string, value []byte, ttl time.Duration) error {
	cpy := append([]byte(nil), value...)
	m.mu.Lock()
	defer m.mu.Unlock()
	paths, ok := m.entries[identity]
	if !ok {
		paths = map[string]entry{}
		m.entries[identity] = paths
	}
	paths[path] = entry{value: cpy, expires: m.now().Add(ttl)}
	return nil
}

// InvalidateAll implements Store.
func (m *MemoryStore) InvalidateAll(_ context.Context, identity string) error {
	m.mu.Lock()
	delete(m.entries, identity)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for identity, paths := range m.entries {
		for path, e := range paths {
			if !now.Before(e.expires) {
				m.deleteLocked(identity, path)
				n++
			}
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, paths := range m.entries {
		n += len(paths)
	}
	return n
}

func (m *MemoryStore) deleteLocked(identity, path string) {
	paths := m.entries[identity]
	delete(paths, path)
	if len(paths) == 0 {
		delete(m.entries, identity)
	}
}
