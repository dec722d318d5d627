package store

import (
	"context"
	"sync"
)

// Memory is a process-local Store used when no Redis is configured.
type Memory struct {
	prefix string

	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory(namespace string) *Memory {
	return &Memory{prefix: namespace, data: make(map[string][]byte)}
}

func (m *Memory) key(k string) string { return m.prefix + k }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[m.key(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[m.key(key)] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, m.key(key))
	m.mu.Unlock()
	return nil
}

// Keys returns the raw namespaced keys currently held.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}
