package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/policy"
)

// RecordApproval persists a resolution. Re-recording an id replaces it.
func (s *Store) RecordApproval(ctx context.Context, r approval.Resolution) error {
	params, err := json.Marshal(r.Request.Params)
	if err != nil {
		return fmt.Errorf("encode approval params: %w", err)
	}
	const q = `INSERT OR REPLACE INTO approvals
(id, session_id, tool, operation, risk, message, params_json, status, resolved_by, reason, created_at, deadline, resolved_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		r.Request.ID,
		r.Request.SessionID,
		r.Request.Tool,
		r.Request.Operation,
		string(r.Request.Risk),
		r.Request.Message,
		string(params),
		string(r.Status),
		r.ResolvedBy,
		r.Reason,
		unixNano(r.Request.CreatedAt),
		unixNano(r.Request.Deadline),
		unixNano(r.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

// ListApprovals returns up to limit resolutions, most recent first. A
// non-positive limit returns all of them.
func (s *Store) ListApprovals(ctx context.Context, limit int) ([]approval.Resolution, error) {
	if limit <= 0 {
		limit = -1
	}
	const q = `SELECT id, session_id, tool, operation, risk, message, params_json, status, resolved_by, reason, created_at, deadline, resolved_at
FROM approvals
ORDER BY resolved_at DESC, rowid DESC
LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []approval.Resolution
	for rows.Next() {
		var (
			r                             approval.Resolution
			risk, status, params          string
			created, deadline, resolvedAt int64
		)
		if err := rows.Scan(&r.Request.ID, &r.Request.SessionID, &r.Request.Tool, &r.Request.Operation,
			&risk, &r.Request.Message, &params, &status, &r.ResolvedBy, &r.Reason,
			&created, &deadline, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		r.Request.Risk = policy.Risk(risk)
		r.Status = approval.Status(status)
		r.Request.CreatedAt = fromUnixNano(created)
		r.Request.Deadline = fromUnixNano(deadline)
		r.ResolvedAt = fromUnixNano(resolvedAt)
		if params != "" && params != "null" {
			if err := json.Unmarshal([]byte(params), &r.Request.Params); err != nil {
				s.logger.Warn("undecodable approval params", map[string]interface{}{"id": r.Request.ID})
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
