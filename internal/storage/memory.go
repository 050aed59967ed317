package storage

import (
	"strings"
	"sync"
)

// Compile-time check that MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend is an in-process Backend used by tests and as an ephemeral
// fallback when no durable storage is available.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (m *MemoryBackend) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Close() error { return nil }
