package audit

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the in-memory store.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent events in a ring buffer. It backs the
// memory deployment mode where no audit table exists.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []TimelineRow
	next int
	full bool
	now  func() time.Time
}

// NewMemoryStore builds a ring of the given capacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{rows: make([]TimelineRow, capacity), now: time.Now}
}

// Record implements Recorder.
func (m *MemoryStore) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = m.now()
	}
	row := rowFromEvent(event)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[m.next] = row
	m.next = (m.next + 1) % len(m.rows)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Timeline implements Repository, newest first.
func (m *MemoryStore) Timeline(ctx context.Context, query TimelineQuery) ([]TimelineRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TimelineRow, 0)
	skipped := 0
	for _, row := range m.newestFirst() {
		if !query.Match(row) {
			continue
		}
		if skipped < query.Offset {
			skipped++
			continue
		}
		out = append(out, row)
		if query.Limit > 0 && len(out) == query.Limit {
			break
		}
	}
	return out, nil
}

// Prune drops rows older than the cutoff.
func (m *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := m.newestFirst()
	kept := make([]TimelineRow, 0, len(ordered))
	for _, row := range ordered {
		if !row.At.Before(before) {
			kept = append(kept, row)
		}
	}
	removed := int64(len(ordered) - len(kept))
	rows := make([]TimelineRow, len(m.rows))
	for i := range kept {
		rows[i] = kept[len(kept)-1-i]
	}
	m.rows = rows
	m.next = len(kept) % len(rows)
	m.full = len(kept) == len(rows)
	return removed, nil
}

// newestFirst must be called with mu held.
func (m *MemoryStore) newestFirst() []TimelineRow {
	count := m.next
	if m.full {
		count = len(m.rows)
	}
	out := make([]TimelineRow, 0, count)
	for i := 1; i <= count; i++ {
		idx := (m.next - i + len(m.rows)) % len(m.rows)
		out = append(out, m.rows[idx])
	}
	return out
}
