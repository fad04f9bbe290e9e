package pseudonym

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps the translation table in process memory. It is the
// default backend for single-run usage.
type MemoryStore struct {
	mu         sync.RWMutex
	byOriginal map[string]string
	inUse      map[string]int
	order      []string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byOriginal: make(map[string]string),
		inUse:      make(map[string]int),
	}
}

func (m *MemoryStore) Lookup(_ context.Context, original string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byOriginal[original]
	return p, ok, nil
}

func (m *MemoryStore) PseudonymInUse(_ context.Context, pseudonym string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inUse[pseudonym] > 0, nil
}

func (m *MemoryStore) Insert(_ context.Context, original, pseudonym string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOriginal[original]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, original)
	}
	m.byOriginal[original] = pseudonym
	m.inUse[pseudonym]++
	m.order = append(m.order, original)
	return nil
}

func (m *MemoryStore) All(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]Record, 0, len(m.order))
	for _, original := range m.order {
		records = append(records, Record{Original: original, Pseudonym: m.byOriginal[original]})
	}
	return records, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *MemoryStore) Close() error { return nil }
