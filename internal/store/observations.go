package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentcore/internal/memory"
)

// Remember persists a task outcome.
func (s *Store) Remember(ctx context.Context, obs memory.Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now()
	}
	const q = `INSERT INTO observations
(id, session_id, skill, task_id, outcome, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		obs.ID,
		obs.SessionID,
		obs.Skill,
		obs.TaskID,
		string(obs.Outcome),
		obs.Error,
		obs.Duration.Milliseconds(),
		obs.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

// Recall returns matching outcomes, newest first.
func (s *Store) Recall(ctx context.Context, opts memory.RecallOpts) ([]memory.Observation, error) {
	q := `SELECT id, session_id, skill, task_id, outcome, error, duration_ms, created_at
FROM observations WHERE 1=1`
	var args []interface{}
	if opts.Skill != "" {
		q += ` AND skill = ?`
		args = append(args, opts.Skill)
	}
	if opts.Outcome != "" {
		q += ` AND outcome = ?`
		args = append(args, string(opts.Outcome))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	q += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recall observations: %w", err)
	}
	defer rows.Close()

	var out []memory.Observation
	for rows.Next() {
		var (
			obs      memory.Observation
			outcome  string
			duration int64
			created  int64
		)
		if err := rows.Scan(&obs.ID, &obs.SessionID, &obs.Skill, &obs.TaskID, &outcome, &obs.Error, &duration, &created); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		obs.Outcome = memory.Outcome(outcome)
		obs.Duration = time.Duration(duration) * time.Millisecond
		obs.CreatedAt = time.Unix(0, created)
		out = append(out, obs)
	}
	return out, rows.Err()
}
