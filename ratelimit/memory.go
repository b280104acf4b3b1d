package ratelimit

import (
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (m *MemoryStore) Get(key string) []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.windows[key]
}

func (m *MemoryStore) Set(key string, timestamps []time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(timestamps) == 0 {
		delete(m.windows, key)
		return
	}
	m.windows[key] = timestamps
}

func (m *MemoryStore) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, ts := range m.windows {
		if len(ts) == 0 || ts[len(ts)-1].Before(cutoff) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.windows)
}
