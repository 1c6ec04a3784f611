package journal

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps the most recent deliveries in a bounded ring. Default
// backend when no database is configured.
type MemoryBackend struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	byID    map[string]int
}

func NewMemoryBackend(max int) *MemoryBackend {
	if max <= 0 {
		max = 500
	}
	return &MemoryBackend{
		max:  max,
		byID: map[string]int{},
	}
}

func (m *MemoryBackend) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= m.max {
		evicted := m.entries[0]
		m.entries = m.entries[1:]
		delete(m.byID, evicted.ID)
		for id, idx := range m.byID {
			m.byID[id] = idx - 1
		}
	}
	m.byID[entry.ID] = len(m.entries)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryBackend) Complete(_ context.Context, id string, status Status, detail string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.byID[id]
	if !ok {
		return nil
	}
	m.entries[idx].Status = status
	m.entries[idx].Detail = detail
	completedAt := at
	m.entries[idx].CompletedAt = &completedAt
	return nil
}

func (m *MemoryBackend) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= len(m.entries)-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
