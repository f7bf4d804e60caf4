package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entryKey struct {
	kind Kind
	key  string
}

// Memory is an in-process Ledger. It enforces the same version and seal
// rules as the persistent backends.
type Memory struct {
	mu      sync.RWMutex
	seq     int64
	entries map[entryKey]*Entry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[entryKey]*Entry),
		now:     time.Now,
	}
}

func (m *Memory) Read(_ context.Context, q Query) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if q.Key != "" {
		e, ok := m.entries[entryKey{q.Kind, q.Key}]
		if !ok || !q.matches(e) {
			return nil, nil
		}
		return []*Entry{cloneEntry(e)}, nil
	}

	var out []*Entry
	for _, e := range m.entries {
		if q.matches(e) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *Memory) Write(_ context.Context, kind Kind, key string, t Transition) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := entryKey{kind, key}
	now := m.now().UTC()
	cur, exists := m.entries[k]

	if t.Expect == 0 {
		if exists {
			return nil, ErrConflict
		}
		m.seq++
		e := &Entry{
			Kind:      kind,
			Key:       key,
			Subject:   t.Subject,
			Target:    t.Target,
			Seq:       m.seq,
			Version:   1,
			Sealed:    t.Seal,
			Data:      append([]byte(nil), t.Data...),
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.entries[k] = e
		return cloneEntry(e), nil
	}

	if !exists {
		return nil, ErrNotFound
	}
	if cur.Sealed {
		return nil, ErrSealed
	}
	if cur.Version != t.Expect {
		return nil, ErrConflict
	}
	next := cloneEntry(cur)
	next.Version++
	next.Sealed = t.Seal
	next.Data = append([]byte(nil), t.Data...)
	next.UpdatedAt = now
	m.entries[k] = next
	return cloneEntry(next), nil
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Data = append([]byte(nil), e.Data...)
	return &c
}
