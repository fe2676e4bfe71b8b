package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/agentcore/internal/executor"
)

const writeTimeout = 5 * time.Second

// Recorder turns executor outcome signals into observations. Writes are
// fire-and-forget: a failing store is logged and never stalls the loop.
type Recorder struct {
	store     Store
	sessionID string
	logger    *logging.Logger

	mu    sync.Mutex
	stats map[string]*Stats
}

var _ executor.MemorySink = (*Recorder)(nil)

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, sessionID string) *Recorder {
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		logger:    logging.New().WithComponent("memory"),
		stats:     make(map[string]*Stats),
	}
}

// RecordSuccess records a successful task.
func (r *Recorder) RecordSuccess(op executor.Operation) { r.record(op, OutcomeSuccess) }

// RecordFailure records a failed task.
func (r *Recorder) RecordFailure(op executor.Operation) { r.record(op, OutcomeFailure) }

func (r *Recorder) record(op executor.Operation, outcome Outcome) {
	r.mu.Lock()
	st, ok := r.stats[op.Skill]
	if !ok {
		st = &Stats{Skill: op.Skill}
		r.stats[op.Skill] = st
	}
	if outcome == OutcomeSuccess {
		st.Successes++
	} else {
		st.Failures++
		st.LastError = op.Error
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := r.store.Remember(ctx, Observation{
		SessionID: r.sessionID,
		Skill:     op.Skill,
		TaskID:    op.TaskID,
		Outcome:   outcome,
		Error:     op.Error,
		Duration:  op.Duration,
	})
	if err != nil {
		r.logger.Warn("failed to record outcome", map[string]interface{}{
			"skill": op.Skill,
			"error": err.Error(),
		})
	}
}

// Stats returns this session's per-skill counters.
func (r *Recorder) Stats(skill string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.stats[skill]; ok {
		return *st
	}
	return Stats{Skill: skill}
}
