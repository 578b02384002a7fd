package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps totals and a ring of the most recent records.
type MemoryStore struct {
	mu    sync.Mutex
	stats Stats
	ring  []Record
	next  int
	full  bool
}

// NewMemoryStore keeps at most keep recent records (minimum 1).
func NewMemoryStore(keep int) *MemoryStore {
	if keep < 1 {
		keep = 1
	}
	return &MemoryStore{ring: make([]Record, keep)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Record(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.add(r)
	m.ring[m.next] = r
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := m.next
	if m.full {
		size = len(m.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
