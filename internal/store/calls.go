// ABOUTME: SQLite implementation of the tool call journal
// ABOUTME: Records executions and serves recent-call listings and per-tool stats

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordCall stores a tool call record.
func (s *SQLiteStore) RecordCall(ctx context.Context, rec *CallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tool_calls (id, tool, server, facade, success, error_kind, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Tool,
		nullString(rec.Server),
		nullString(rec.Facade),
		rec.Success,
		nullString(rec.ErrorKind),
		nullString(rec.Error),
		rec.DurationMs,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting tool call: %w", err)
	}

	s.logger.Debug("recorded tool call",
		"id", rec.ID,
		"tool", rec.Tool,
		"server", rec.Server,
		"success", rec.Success,
	)
	return nil
}

const callColumns = `id, tool, server, facade, success, error_kind, error, duration_ms, created_at`

// GetCall retrieves one call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM tool_calls WHERE id = ?`, id)
	rec, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool call: %w", err)
	}
	return rec, nil
}

// ListCalls returns calls matching filter, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]*CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM tool_calls WHERE 1=1`
	args := []any{}

	if filter.Tool != "" {
		query += " AND tool = ?"
		args = append(args, filter.Tool)
	}
	if filter.Server != "" {
		query += " AND server = ?"
		args = append(args, filter.Server)
	}
	if filter.FailuresOnly {
		query += " AND success = 0"
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tool calls: %w", err)
	}
	defer rows.Close()

	var calls []*CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tool call: %w", err)
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool calls: %w", err)
	}
	return calls, nil
}

// CallStats aggregates calls per tool.
func (s *SQLiteStore) CallStats(ctx context.Context, since *time.Time) ([]*ToolStats, error) {
	query := `
		SELECT
			tool,
			COUNT(*) AS calls,
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0) AS failures,
			COALESCE(AVG(duration_ms), 0) AS avg_duration
		FROM tool_calls
		WHERE 1=1
	`
	args := []any{}
	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*since))
	}
	query += " GROUP BY tool ORDER BY tool"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying call stats: %w", err)
	}
	defer rows.Close()

	var stats []*ToolStats
	for rows.Next() {
		var st ToolStats
		if err := rows.Scan(&st.Tool, &st.Calls, &st.Failures, &st.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scanning call stats: %w", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*CallRecord, error) {
	var rec CallRecord
	var server, facade, errorKind, errText sql.NullString
	var createdAt string

	err := row.Scan(
		&rec.ID,
		&rec.Tool,
		&server,
		&facade,
		&rec.Success,
		&errorKind,
		&errText,
		&rec.DurationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Server = server.String
	rec.Facade = facade.String
	rec.ErrorKind = errorKind.String
	rec.Error = errText.String
	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
