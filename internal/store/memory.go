package store

import (
	"context"
	"fmt"
	"sync"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]map[string]Record)}
}

func (m *MemoryBackend) Put(_ context.Context, collection string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		col = make(map[string]Record)
		m.collections[collection] = col
	}
	col[rec.ID] = rec
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, collection, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.collections[collection][id]
	if !ok {
		return Record{}, brainErrors.NotFound(fmt.Sprintf("%s/%s", collection, id))
	}
	return rec, nil
}

func (m *MemoryBackend) List(_ context.Context, collection, owner string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.collections[collection]))
	for _, rec := range m.collections[collection] {
		if owner == "" || rec.Owner == owner {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryBackend) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
