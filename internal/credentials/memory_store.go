package credentials

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	ints    map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		ints:    make(map[string]int64),
	}
}

func (m *MemoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *MemoryStore) SetString(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = value
	return nil
}

func (m *MemoryStore) GetInt64(_ context.Context, key string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *MemoryStore) SetInt64(_ context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.strings, k)
		delete(m.ints, k)
	}
	return nil
}

func (m *MemoryStore) Name() string { return "MemoryStore" }
