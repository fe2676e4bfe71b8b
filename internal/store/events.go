package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/agentcore/internal/events"
)

// Record persists a tool event. The row id becomes the event's sequence
// number when it is read back.
func (s *Store) Record(ctx context.Context, ev events.Event) error {
	params, err := json.Marshal(ev.Params)
	if err != nil {
		return fmt.Errorf("encode event params: %w", err)
	}
	var success sql.NullBool
	if ev.Success != nil {
		success = sql.NullBool{Bool: *ev.Success, Valid: true}
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	const q = `INSERT INTO tool_events
(event_type, corr_id, session_id, task_id, tool, params_json, result, success, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		ev.Type,
		ev.CorrelationID,
		ev.SessionID,
		ev.TaskID,
		ev.Tool,
		string(params),
		ev.Result,
		success,
		ev.Error,
		ev.DurationMs,
		ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListEvents returns a session's events in insertion order. An empty
// sessionID lists every session.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]events.Event, error) {
	q := `SELECT id, event_type, corr_id, session_id, task_id, tool, params_json, result, success, error, duration_ms, created_at
FROM tool_events`
	var args []interface{}
	if sessionID != "" {
		q += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	q += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev      events.Event
			params  string
			success sql.NullBool
			created int64
		)
		if err := rows.Scan(&ev.Seq, &ev.Type, &ev.CorrelationID, &ev.SessionID, &ev.TaskID, &ev.Tool,
			&params, &ev.Result, &success, &ev.Error, &ev.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if success.Valid {
			ok := success.Bool
			ev.Success = &ok
		}
		ev.Timestamp = time.Unix(0, created)
		if params != "" && params != "null" {
			if err := json.Unmarshal([]byte(params), &ev.Params); err != nil {
				return nil, fmt.Errorf("decode event params: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
