package store

import (
	"sync"

	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

// MemoryStore is a non-durable TaskStore used in tests and by callers
// that don't want SQLite (spec.md §4.8's crash-safety guarantee doesn't
// apply to it, by construction — nothing survives a process restart).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]ketchtypes.TaskRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ketchtypes.TaskRecord)}
}

func (m *MemoryStore) Save(record ketchtypes.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.TaskID] = record
	return nil
}

func (m *MemoryStore) Load(id string) (ketchtypes.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return ketchtypes.TaskRecord{}, ketcherr.New(ketcherr.Disk, "task record not found")
	}
	return record, nil
}

func (m *MemoryStore) LoadAll() ([]ketchtypes.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ketchtypes.TaskRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	return out, nil
}

func (m *MemoryStore) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
