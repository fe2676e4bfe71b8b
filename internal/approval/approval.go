// Package approval holds tool calls that need a human decision until they
// are approved, denied, or their deadline passes.
package approval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/agentcore/internal/policy"
)

var (
	// ErrDenied is returned for a call a reviewer rejected.
	ErrDenied = errors.New("approval denied")
	// ErrExpired is returned when nobody answered before the deadline.
	ErrExpired = errors.New("approval expired")
	// ErrUnknownRequest is returned when resolving an id that is not pending.
	ErrUnknownRequest = errors.New("no pending approval with that id")
)

// Status is the outcome of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Request describes one call waiting for review.
type Request struct {
	ID        string                 `json:"id"`
	Tool      string                 `json:"tool"`
	Operation string                 `json:"operation"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Risk      policy.Risk            `json:"risk"`
	Message   string                 `json:"message"`
	SessionID string                 `json:"session_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Deadline  time.Time              `json:"deadline"`
}

// Resolution is a finished request.
type Resolution struct {
	Request    Request   `json:"request"`
	Status     Status    `json:"status"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Err maps the status to ErrDenied, ErrExpired or nil.
func (r Resolution) Err() error {
	switch r.Status {
	case StatusDenied:
		if r.Reason != "" {
			return fmt.Errorf("%w: %s", ErrDenied, r.Reason)
		}
		return ErrDenied
	case StatusExpired:
		return ErrExpired
	}
	return nil
}

// AuditSink receives every resolution.
type AuditSink interface {
	RecordApproval(ctx context.Context, r Resolution) error
}

// Config controls when approval is needed and how long to wait.
type Config struct {
	// Enabled false approves everything automatically.
	Enabled            bool
	Timeout            time.Duration
	AutoApproveLowRisk bool
	// AutoApprovePatterns are matched against Request.Operation.
	AutoApprovePatterns []string
	HistorySize         int
}

// DefaultConfig waits five minutes and keeps the last 100 resolutions.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Timeout:            5 * time.Minute,
		AutoApproveLowRisk: true,
		HistorySize:        100,
	}
}

type pending struct {
	req   Request
	timer *time.Timer
	done  chan Resolution
}

// Manager tracks pending requests and their outcomes.
type Manager struct {
	cfg      Config
	patterns []*regexp.Regexp

	mu      sync.Mutex
	pending map[string]*pending
	history []Resolution

	audit     AuditSink
	onRequest func(Request)
	logger    *logging.Logger
}

// NewManager validates the auto-approve patterns and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	m := &Manager{
		cfg:     cfg,
		pending: make(map[string]*pending),
		logger:  logging.New().WithComponent("approval"),
	}
	for _, p := range cfg.AutoApprovePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("auto-approve pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// SetAuditSink attaches a sink that records every resolution.
func (m *Manager) SetAuditSink(s AuditSink) { m.audit = s }

// OnRequest registers a callback for new pending requests. It runs on its
// own goroutine so it may block, e.g. to prompt a terminal.
func (m *Manager) OnRequest(fn func(Request)) { m.onRequest = fn }

func (m *Manager) autoApprove(req Request) (bool, string) {
	if !m.cfg.Enabled {
		return true, "approval disabled"
	}
	// An unrated request came from an explicit require-approval rule.
	if m.cfg.AutoApproveLowRisk && req.Risk == policy.RiskLow {
		return true, "low risk"
	}
	for _, re := range m.patterns {
		if re.MatchString(req.Operation) {
			return true, "matched " + re.String()
		}
	}
	return false, ""
}

// Request blocks until req is resolved. Cancelling ctx denies it.
func (m *Manager) Request(ctx context.Context, req Request) Resolution {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.CreatedAt = time.Now()

	if ok, why := m.autoApprove(req); ok {
		res := Resolution{Request: req, Status: StatusApproved, ResolvedBy: "auto", Reason: why, ResolvedAt: req.CreatedAt}
		m.record(ctx, res)
		return res
	}

	timeout := m.cfg.Timeout
	if !req.Deadline.IsZero() {
		timeout = time.Until(req.Deadline)
	} else {
		req.Deadline = req.CreatedAt.Add(timeout)
	}

	p := &pending{req: req, done: make(chan Resolution, 1)}
	m.mu.Lock()
	m.pending[req.ID] = p
	p.timer = time.AfterFunc(timeout, func() {
		m.resolve(context.Background(), req.ID, StatusExpired, "timer", "deadline passed")
	})
	m.mu.Unlock()

	m.logger.Info("approval requested", map[string]interface{}{
		"id":        req.ID,
		"tool":      req.Tool,
		"risk":      string(req.Risk),
		"operation": req.Operation,
		"deadline":  req.Deadline.Format(time.RFC3339),
	})
	if fn := m.onRequest; fn != nil {
		go fn(req)
	}

	select {
	case res := <-p.done:
		return res
	case <-ctx.Done():
		m.resolve(context.Background(), req.ID, StatusDenied, "context", "cancelled")
		return <-p.done
	}
}

// Approve resolves id as approved.
func (m *Manager) Approve(id, by string) error {
	if !m.resolve(context.Background(), id, StatusApproved, by, "") {
		return ErrUnknownRequest
	}
	return nil
}

// Deny resolves id as denied.
func (m *Manager) Deny(id, by, reason string) error {
	if !m.resolve(context.Background(), id, StatusDenied, by, reason) {
		return ErrUnknownRequest
	}
	return nil
}

func (m *Manager) resolve(ctx context.Context, id string, status Status, by, reason string) bool {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	m.mu.Unlock()

	res := Resolution{Request: p.req, Status: status, ResolvedBy: by, Reason: reason, ResolvedAt: time.Now()}
	m.record(ctx, res)
	p.done <- res
	return true
}

func (m *Manager) record(ctx context.Context, res Resolution) {
	m.mu.Lock()
	m.history = append(m.history, res)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append([]Resolution(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	m.logger.Info("approval resolved", map[string]interface{}{
		"id":     res.Request.ID,
		"tool":   res.Request.Tool,
		"status": string(res.Status),
		"by":     res.ResolvedBy,
	})
	if m.audit != nil {
		if err := m.audit.RecordApproval(ctx, res); err != nil {
			m.logger.Warn("approval audit failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Pending returns open requests, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// History returns the most recent resolutions, oldest first.
func (m *Manager) History() []Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Resolution(nil), m.history...)
}
