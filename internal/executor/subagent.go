// Sub-agent management: independent decision loops with their own sandbox
// and process scope.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/sandbox"
)

// Mode selects whether Spawn waits for the sub-agent.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// SubAgentStatus is the lifecycle state of a sub-agent.
type SubAgentStatus string

const (
	SubAgentRunning   SubAgentStatus = "running"
	SubAgentCompleted SubAgentStatus = "completed"
	SubAgentFailed    SubAgentStatus = "failed"
	SubAgentCancelled SubAgentStatus = "cancelled"
)

// ErrUnknownSubAgent is returned for ids Spawn never issued.
var ErrUnknownSubAgent = errors.New("unknown sub-agent")

// ScopeCanceller kills every process tagged with a scope key;
// *process.Supervisor satisfies it.
type ScopeCanceller interface {
	CancelScope(key string) int
}

// SubAgentInfo is a read-only view of a sub-agent.
type SubAgentInfo struct {
	ID        string
	Mode      Mode
	Status    SubAgentStatus
	Result    *Result
	StartedAt time.Time
	EndedAt   time.Time
}

type subAgent struct {
	info    SubAgentInfo
	sandbox *sandbox.Context
	cancel  context.CancelFunc
	done    chan struct{}
	cleanup sync.Once
}

// SubAgentConfig wires the shared layers every sub-agent uses.
type SubAgentConfig struct {
	// NewExecutor builds a fresh executor per sub-agent. Required.
	NewExecutor func() *Executor
	Sandboxes   *sandbox.Manager
	Processes   ScopeCanceller
	Locks       *locks.Manager
	Workdir     string
	// Mounts are added to every sub-agent sandbox, e.g. skill directories.
	Mounts      []sandbox.Mount
	SessionID   string
}

// SubAgents runs decision loops side by side. Each sub-agent owns its
// state, sandbox and scope key; they share only the lock manager.
type SubAgents struct {
	cfg    SubAgentConfig
	mu     sync.Mutex
	agents map[string]*subAgent
	logger *logging.Logger
}

// NewSubAgents returns an empty sub-agent table.
func NewSubAgents(cfg SubAgentConfig) *SubAgents {
	return &SubAgents{
		cfg:    cfg,
		agents: make(map[string]*subAgent),
		logger: logging.New().WithComponent("subagents"),
	}
}

// Spawn starts a sub-agent. In sync mode it returns once the run ends; in
// async mode it returns immediately and the run outlives ctx until Cancel.
func (s *SubAgents) Spawn(ctx context.Context, req Request, mode Mode) (SubAgentInfo, error) {
	if s.cfg.NewExecutor == nil {
		return SubAgentInfo{}, fmt.Errorf("sub-agents: no executor factory")
	}
	if mode != ModeSync && mode != ModeAsync {
		return SubAgentInfo{}, fmt.Errorf("sub-agents: unknown mode %q", mode)
	}
	id := "sub-" + uuid.NewString()[:8]

	var sc *sandbox.Context
	if s.cfg.Sandboxes != nil {
		var err error
		sc, err = s.cfg.Sandboxes.Create(ctx, s.cfg.Workdir, id, s.cfg.Mounts)
		if err != nil {
			return SubAgentInfo{}, fmt.Errorf("sub-agent %s: %w", id, err)
		}
	}

	exec := s.cfg.NewExecutor()
	sessionID := s.cfg.SessionID
	if sessionID == "" {
		sessionID = id
	}
	exec.SetSession(sessionID, id)
	if sc != nil {
		exec.SetSandbox(sc)
	}
	if s.cfg.Locks != nil {
		exec.SetLocks(s.cfg.Locks)
	}

	parent := ctx
	if mode == ModeAsync {
		parent = context.WithoutCancel(ctx)
	}
	runCtx, cancel := context.WithCancel(parent)

	a := &subAgent{
		info:    SubAgentInfo{ID: id, Mode: mode, Status: SubAgentRunning, StartedAt: time.Now()},
		sandbox: sc,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.agents[id] = a
	s.mu.Unlock()

	s.logger.Info("sub-agent started", map[string]interface{}{"id": id, "mode": string(mode), "tasks": len(req.Tasks)})

	run := func() {
		defer close(a.done)
		spanCtx, span := startSubAgentSpan(runCtx, id, string(mode))
		res := exec.Execute(spanCtx, req)
		span.End()

		s.mu.Lock()
		if a.info.Status == SubAgentRunning {
			a.info.Status = SubAgentCompleted
			if !res.Success {
				a.info.Status = SubAgentFailed
			}
		}
		a.info.Result = res
		a.info.EndedAt = time.Now()
		status := a.info.Status
		s.mu.Unlock()

		s.release(a)
		cancel()
		s.logger.Info("sub-agent finished", map[string]interface{}{"id": id, "status": string(status)})
	}

	if mode == ModeAsync {
		go run()
		return s.info(a), nil
	}
	run()
	return s.info(a), nil
}

// Wait blocks until the sub-agent ends or ctx is done.
func (s *SubAgents) Wait(ctx context.Context, id string) (SubAgentInfo, error) {
	a, err := s.get(id)
	if err != nil {
		return SubAgentInfo{}, err
	}
	select {
	case <-a.done:
		return s.info(a), nil
	case <-ctx.Done():
		return s.info(a), ctx.Err()
	}
}

// Cancel stops a running sub-agent: its sandbox is destroyed, its process
// scope killed and its locks cleared. Cancelling a finished sub-agent is a
// no-op.
func (s *SubAgents) Cancel(id string) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if a.info.Status != SubAgentRunning {
		s.mu.Unlock()
		return nil
	}
	a.info.Status = SubAgentCancelled
	s.mu.Unlock()

	a.cancel()
	s.release(a)
	s.logger.Info("sub-agent cancelled", map[string]interface{}{"id": id})
	return nil
}

// CancelAll cancels every running sub-agent.
func (s *SubAgents) CancelAll() int {
	n := 0
	for _, info := range s.List() {
		if info.Status == SubAgentRunning && s.Cancel(info.ID) == nil {
			n++
		}
	}
	return n
}

// Get returns a sub-agent's current view.
func (s *SubAgents) Get(id string) (SubAgentInfo, error) {
	a, err := s.get(id)
	if err != nil {
		return SubAgentInfo{}, err
	}
	return s.info(a), nil
}

// List returns every sub-agent, oldest first.
func (s *SubAgents) List() []SubAgentInfo {
	s.mu.Lock()
	out := make([]SubAgentInfo, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.info)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *SubAgents) get(id string) (*subAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubAgent, id)
	}
	return a, nil
}

func (s *SubAgents) info(a *subAgent) SubAgentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return a.info
}

// release tears down everything a sub-agent holds. Runs once.
func (s *SubAgents) release(a *subAgent) {
	a.cleanup.Do(func() {
		id := a.info.ID
		if s.cfg.Sandboxes != nil && a.sandbox != nil {
			if err := s.cfg.Sandboxes.Destroy(context.Background(), a.sandbox); err != nil {
				s.logger.Warn("sub-agent sandbox destroy failed", map[string]interface{}{"id": id, "error": err.Error()})
			}
		}
		if s.cfg.Processes != nil {
			if n := s.cfg.Processes.CancelScope(id); n > 0 {
				s.logger.Info("killed sub-agent processes", map[string]interface{}{"id": id, "count": n})
			}
		}
		if s.cfg.Locks != nil {
			s.cfg.Locks.ClearTaskLocks(id)
		}
	})
}
