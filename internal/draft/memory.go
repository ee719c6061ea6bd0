package draft

import (
	"context"
	"sync"
)

// MemoryStore keeps drafts in process memory with a total byte quota.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string][]byte
	used     int
	quota    int
	disabled bool
}

// NewMemoryStore creates a store. quota <= 0 means unlimited.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte), quota: quota}
}

// Disable makes every subsequent call fail with ErrDisabled.
func (m *MemoryStore) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.disabled {
		return nil, ErrDisabled
	}
	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrDisabled
	}
	next := m.used - len(m.items[key]) + len(value)
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.items[key] = stored
	m.used = next
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrDisabled
	}
	m.used -= len(m.items[key])
	delete(m.items, key)
	return nil
}

// Len returns the number of stored drafts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
