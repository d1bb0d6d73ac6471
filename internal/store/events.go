// ABOUTME: SQLite implementation of the provider lifecycle event log
// ABOUTME: Appends state transitions and lists them newest first

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordServerEvent stores a provider state transition.
func (s *SQLiteStore) RecordServerEvent(ctx context.Context, ev *ServerEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO server_events (server, from_state, to_state, pid, generation, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		ev.Server,
		ev.FromState,
		ev.ToState,
		ev.PID,
		int64(ev.Generation),
		nullString(ev.Error),
		formatTime(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting server event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}

	s.logger.Debug("recorded server event", "server", ev.Server, "from", ev.FromState, "to", ev.ToState)
	return nil
}

// ListServerEvents returns transitions newest first, for one server or all.
func (s *SQLiteStore) ListServerEvents(ctx context.Context, server string, limit int) ([]*ServerEvent, error) {
	query := `
		SELECT id, server, from_state, to_state, pid, generation, error, created_at
		FROM server_events
		WHERE 1=1
	`
	args := []any{}
	if server != "" {
		query += " AND server = ?"
		args = append(args, server)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, normalizeLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying server events: %w", err)
	}
	defer rows.Close()

	var events []*ServerEvent
	for rows.Next() {
		var ev ServerEvent
		var pid sql.NullInt64
		var gen int64
		var errText sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Server, &ev.FromState, &ev.ToState, &pid, &gen, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning server event: %w", err)
		}
		ev.PID = int(pid.Int64)
		ev.Generation = uint64(gen)
		ev.Error = errText.String
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server events: %w", err)
	}
	return events, nil
}
