package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a process-local Store. Records are lost on exit.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	tests    map[int64]Record
	settings *Settings
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tests: make(map[int64]Record),
		now:   time.Now,
	}
}

// CreateTest implements Store.
func (m *Memory) CreateTest(_ context.Context, rec *Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	rec.ID = m.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.tests[rec.ID] = *rec
	return rec.ID, nil
}

// ListTests implements Store.
func (m *Memory) ListTests(context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.tests))
	for _, r := range m.tests {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// GetTest implements Store.
func (m *Memory) GetTest(_ context.Context, id int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// DeleteTest implements Store.
func (m *Memory) DeleteTest(_ context.Context, id int64, instanceNum *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.tests[id]
	if !ok {
		return ErrNotFound
	}
	if instanceNum != nil {
		whole, err := RemoveInstance(&r, *instanceNum)
		if err != nil {
			return err
		}
		if !whole {
			m.tests[id] = r
			return nil
		}
	}
	delete(m.tests, id)
	return nil
}

// DeleteAllTests implements Store.
func (m *Memory) DeleteAllTests(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.tests)
	return nil
}

// GetSettings implements Store.
func (m *Memory) GetSettings(context.Context) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return DefaultSettings(), nil
	}
	s := *m.settings
	return &s, nil
}

// UpdateSettings implements Store.
func (m *Memory) UpdateSettings(_ context.Context, s Settings) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.LastUpdated == nil {
		now := m.now()
		s.LastUpdated = &now
	}
	m.settings = &s
	out := s
	return &out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
