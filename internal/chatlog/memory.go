package chatlog

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the log in a fixed-size ring buffer. When the buffer is
// full the oldest record is overwritten. It is goroutine-safe.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Record
	pos   int
	count int
}

// NewMemoryStore creates a MemoryStore holding at most capacity records.
// A non-positive capacity means DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{items: make([]Record, capacity)}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, rec Record) (string, error) {
	rec, err := prepare(rec)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[m.pos] = rec
	m.pos = (m.pos + 1) % len(m.items)
	if m.count < len(m.items) {
		m.count++
	}
	return rec.ID, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.items)
	m.pos = 0
	m.count = 0
	return nil
}

// records returns the retained records oldest first.
func (m *MemoryStore) records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

// snapshot must be called with mu held.
func (m *MemoryStore) snapshot() []Record {
	size := len(m.items)
	out := make([]Record, m.count)
	// The oldest record is at position (pos - count) mod size.
	start := (m.pos - m.count + size) % size
	for i := 0; i < m.count; i++ {
		out[i] = m.items[(start+i)%size]
	}
	return out
}

// each calls fn for every retained record under the read lock.
func (m *MemoryStore) each(fn func(Record)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.snapshot() {
		fn(r)
	}
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, f Filter) (int, error) {
	n := 0
	m.each(func(r Record) {
		if f.FlaggedOnly && !r.IsFiltered {
			return
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			return
		}
		n++
	})
	return n, nil
}

// ActivityByDay implements Store.
func (m *MemoryStore) ActivityByDay(_ context.Context, days int, now time.Time) ([]DayActivity, error) {
	since := windowStart(days, now)
	raw := make(map[string]dayCounts)
	m.each(func(r Record) {
		if r.CreatedAt.Before(since) {
			return
		}
		key := r.CreatedAt.UTC().Format(time.DateOnly)
		c := raw[key]
		c.total++
		if r.IsFiltered {
			c.flagged++
		}
		raw[key] = c
	})
	return fillDays(days, now, raw), nil
}

// ActivityByHour implements Store.
func (m *MemoryStore) ActivityByHour(_ context.Context, days int, now time.Time) ([]HourActivity, error) {
	since := windowStart(days, now)
	raw := make(map[int]int)
	m.each(func(r Record) {
		if r.CreatedAt.Before(since) {
			return
		}
		raw[r.CreatedAt.UTC().Hour()]++
	})
	return fillHours(raw), nil
}

// TopSenders implements Store.
func (m *MemoryStore) TopSenders(_ context.Context, limit int, excludeFiltered bool) ([]SenderCount, error) {
	counts := make(map[string]int)
	m.each(func(r Record) {
		if excludeFiltered && r.IsFiltered {
			return
		}
		counts[r.Sender]++
	})
	return rankSenders(counts, limit), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
