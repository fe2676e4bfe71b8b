// Package memory records task outcomes so later sessions can see which
// skills succeeded or failed and why.
package memory

import (
	"context"
	"time"
)

// Outcome of a task.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Observation is one recorded outcome.
type Observation struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Skill     string        `json:"skill"`
	TaskID    string        `json:"task_id,omitempty"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// RecallOpts filters Recall. Zero values match everything.
type RecallOpts struct {
	Skill   string
	Outcome Outcome
	Limit   int // default 10
}

// Store is the interface for outcome storage.
type Store interface {
	Remember(ctx context.Context, obs Observation) error
	// Recall returns matching observations, newest first.
	Recall(ctx context.Context, opts RecallOpts) ([]Observation, error)
}

// Stats summarises a skill's recorded outcomes.
type Stats struct {
	Skill     string
	Successes int
	Failures  int
	LastError string
}

// SuccessRate is successes over total, or 0 with nothing recorded.
func (s Stats) SuccessRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

func (o RecallOpts) limit() int {
	if o.Limit <= 0 {
		return 10
	}
	return o.Limit
}

func (o RecallOpts) matches(obs Observation) bool {
	if o.Skill != "" && obs.Skill != o.Skill {
		return false
	}
	if o.Outcome != "" && obs.Outcome != o.Outcome {
		return false
	}
	return true
}
