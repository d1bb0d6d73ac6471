// ABOUTME: Store interface and record types for the call journal and server events.
// ABOUTME: Implemented by SQLiteStore for production and MockStore for tests.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps list queries that pass no limit.
const DefaultListLimit = 100

// CallRecord is one tool execution.
type CallRecord struct {
	ID         string    `json:"id"`
	Tool       string    `json:"tool"`
	Server     string    `json:"server,omitempty"`
	Facade     string    `json:"facade,omitempty"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// CallFilter narrows ListCalls. Zero values match everything.
type CallFilter struct {
	Tool         string
	Server       string
	FailuresOnly bool
	Since        *time.Time
	Limit        int
}

// ToolStats aggregates the journal for one tool.
type ToolStats struct {
	Tool          string  `json:"tool"`
	Calls         int64   `json:"calls"`
	Failures      int64   `json:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ServerEvent is one provider state transition.
type ServerEvent struct {
	ID         int64     `json:"id"`
	Server     string    `json:"server"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	PID        int       `json:"pid,omitempty"`
	Generation uint64    `json:"generation"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence interface used by the hub.
type Store interface {
	// RecordCall appends a call to the journal. An empty ID is filled in.
	RecordCall(ctx context.Context, rec *CallRecord) error

	// GetCall returns one call by ID or ErrNotFound.
	GetCall(ctx context.Context, id string) (*CallRecord, error)

	// ListCalls returns matching calls, newest first.
	ListCalls(ctx context.Context, filter CallFilter) ([]*CallRecord, error)

	// CallStats aggregates the journal per tool, ordered by tool name.
	CallStats(ctx context.Context, since *time.Time) ([]*ToolStats, error)

	// RecordServerEvent appends a provider state transition.
	RecordServerEvent(ctx context.Context, ev *ServerEvent) error

	// ListServerEvents returns transitions for server (all servers when
	// empty), newest first.
	ListServerEvents(ctx context.Context, server string, limit int) ([]*ServerEvent, error)

	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
