// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	calls  []*CallRecord  // append order
	events []*ServerEvent // append order
	nextID int64
	closed bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordCall stores a call.
func (m *MockStore) RecordCall(_ context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	c := *rec
	m.calls = append(m.calls, &c)
	return nil
}

// GetCall retrieves a call by ID.
func (m *MockStore) GetCall(_ context.Context, id string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.calls {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListCalls returns matching calls, newest first.
func (m *MockStore) ListCalls(_ context.Context, filter CallFilter) ([]*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeLimit(filter.Limit)
	var out []*CallRecord
	for i := len(m.calls) - 1; i >= 0 && len(out) < limit; i-- {
		c := m.calls[i]
		if filter.Tool != "" && c.Tool != filter.Tool {
			continue
		}
		if filter.Server != "" && c.Server != filter.Server {
			continue
		}
		if filter.FailuresOnly && c.Success {
			continue
		}
		if filter.Since != nil && c.CreatedAt.Before(*filter.Since) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// CallStats aggregates calls per tool.
func (m *MockStore) CallStats(_ context.Context, since *time.Time) ([]*ToolStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byTool := make(map[string]*ToolStats)
	totals := make(map[string]int64)
	for _, c := range m.calls {
		if since != nil && c.CreatedAt.Before(*since) {
			continue
		}
		st, ok := byTool[c.Tool]
		if !ok {
			st = &ToolStats{Tool: c.Tool}
			byTool[c.Tool] = st
		}
		st.Calls++
		if !c.Success {
			st.Failures++
		}
		totals[c.Tool] += c.DurationMs
	}

	out := make([]*ToolStats, 0, len(byTool))
	for tool, st := range byTool {
		st.AvgDurationMs = float64(totals[tool]) / float64(st.Calls)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out, nil
}

// RecordServerEvent stores a transition.
func (m *MockStore) RecordServerEvent(_ context.Context, ev *ServerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	ev.ID = m.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	e := *ev
	m.events = append(m.events, &e)
	return nil
}

// ListServerEvents returns transitions newest first.
func (m *MockStore) ListServerEvents(_ context.Context, server string, limit int) ([]*ServerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit = normalizeLimit(limit)
	var out []*ServerEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if server != "" && e.Server != server {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
