// Package process supervises long-running and interactive subprocesses.
//
// Every spawned process moves through starting -> running -> one of
// completed, failed, killed or timeout. Terminal records stay readable until
// Remove is called so callers can still poll final output.
package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
)

// State is a lifecycle state of a supervised process.
type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateKilled    State = "killed"
	StateTimeout   State = "timeout"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateKilled, StateTimeout:
		return true
	}
	return false
}

// ErrNotFound is returned for unknown process ids.
var ErrNotFound = errors.New("process not found")

// ErrNotRunning is returned when writing to or removing a process in the
// wrong state.
var ErrNotRunning = errors.New("process not running")

// Config holds supervisor defaults.
type Config struct {
	GracePeriod    time.Duration // wait after the graceful signal before SIGKILL
	DefaultTimeout time.Duration // 0 = no timeout unless Options.Timeout is set
	MaxOutputBytes int           // per stream; output beyond it is dropped
}

// Options configures one spawn.
type Options struct {
	Cwd       string
	Env       map[string]string
	Timeout   time.Duration
	ScopeKey  string
	SessionID string
}

// Record is the externally visible state of a process.
type Record struct {
	ID        string            `json:"id"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	State     State             `json:"state"`
	PID       int               `json:"pid,omitempty"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at,omitempty"`
	ScopeKey  string            `json:"scope_key,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Truncated bool              `json:"truncated,omitempty"`
}

// PollResult is returned by Poll.
type PollResult struct {
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	StdoutDelta string `json:"stdout_delta"`
	StderrDelta string `json:"stderr_delta"`
	State       State  `json:"state"`
	ExitCode    *int   `json:"exit_code,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	State      State
	ScopeKey   string
	SessionID  string
	ActiveOnly bool
}

// outputBuffer accumulates one stream and signals on every write.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
	changed   chan<- struct{}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	n := len(p)
	if b.max > 0 && b.buf.Len()+len(p) > b.max {
		room := b.max - b.buf.Len()
		if room < 0 {
			room = 0
		}
		p = p[:room]
		b.truncated = true
	}
	b.buf.Write(p)
	b.mu.Unlock()

	select {
	case b.changed <- struct{}{}:
	default:
	}
	return n, nil
}

func (b *outputBuffer) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}

type managed struct {
	mu        sync.Mutex
	rec       Record
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *outputBuffer
	stderr    *outputBuffer
	stdoutOff int
	stderrOff int
	killed    bool
	timedOut  bool
	timer     *time.Timer
	changed   chan struct{}
	done      chan struct{}
}

func (p *managed) snapshot() Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := p.rec
	rec.Args = append([]string(nil), p.rec.Args...)
	if p.rec.Env != nil {
		rec.Env = make(map[string]string, len(p.rec.Env))
		for k, v := range p.rec.Env {
			rec.Env[k] = v
		}
	}
	if p.rec.ExitCode != nil {
		code := *p.rec.ExitCode
		rec.ExitCode = &code
	}
	_, outTrunc := p.stdout.snapshot()
	_, errTrunc := p.stderr.snapshot()
	rec.Truncated = outTrunc || errTrunc
	return rec
}

// Supervisor owns every process it spawns.
type Supervisor struct {
	cfg     Config
	mu      sync.Mutex
	records map[string]*managed
	active  map[string]*managed
	logger  *logging.Logger
}

// NewSupervisor creates a supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	return &Supervisor{
		cfg:     cfg,
		records: make(map[string]*managed),
		active:  make(map[string]*managed),
		logger:  logging.New().WithComponent("process"),
	}
}

// Spawn starts command with args and returns its id. The argv is passed to the
// OS as-is; no shell is involved.
func (s *Supervisor) Spawn(command string, args []string, opts Options) (string, error) {
	if command == "" {
		return "", fmt.Errorf("spawn: empty command")
	}

	changed := make(chan struct{}, 1)
	p := &managed{
		rec: Record{
			ID:        uuid.New().String(),
			Command:   command,
			Args:      append([]string(nil), args...),
			Cwd:       opts.Cwd,
			Env:       opts.Env,
			State:     StateStarting,
			StartedAt: time.Now(),
			ScopeKey:  opts.ScopeKey,
			SessionID: opts.SessionID,
		},
		stdout:  &outputBuffer{max: s.cfg.MaxOutputBytes, changed: changed},
		stderr:  &outputBuffer{max: s.cfg.MaxOutputBytes, changed: changed},
		changed: changed,
		done:    make(chan struct{}),
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = s.cfg.GracePeriod
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("spawn %s: stdin pipe: %w", command, err)
	}
	p.stdin = stdin
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("spawn %s: %w", command, err)
	}

	p.mu.Lock()
	p.rec.PID = cmd.Process.Pid
	p.rec.State = StateRunning
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { s.expire(p) })
	}
	p.mu.Unlock()

	s.mu.Lock()
	s.records[p.rec.ID] = p
	s.active[p.rec.ID] = p
	s.mu.Unlock()

	s.logger.Info("process spawned", map[string]interface{}{
		"id":      p.rec.ID,
		"command": command,
		"pid":     p.rec.PID,
		"scope":   opts.ScopeKey,
	})

	go s.wait(p)
	return p.rec.ID, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func (s *Supervisor) wait(p *managed) {
	err := p.cmd.Wait()

	code := 0
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	} else if err != nil {
		code = -1
	}

	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	switch {
	case p.killed:
		p.rec.State = StateKilled
	case p.timedOut:
		p.rec.State = StateTimeout
	case code == 0:
		p.rec.State = StateCompleted
	default:
		p.rec.State = StateFailed
	}
	p.rec.ExitCode = &code
	p.rec.EndedAt = time.Now()
	state := p.rec.State
	id := p.rec.ID
	p.mu.Unlock()

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	close(p.done)
	select {
	case p.changed <- struct{}{}:
	default:
	}

	s.logger.Info("process exited", map[string]interface{}{
		"id":        id,
		"state":     string(state),
		"exit_code": code,
	})
}

func (s *Supervisor) expire(p *managed) {
	p.mu.Lock()
	if p.rec.State.Terminal() || p.killed {
		p.mu.Unlock()
		return
	}
	p.timedOut = true
	proc := p.cmd.Process
	p.mu.Unlock()

	s.logger.Warn("process timed out", map[string]interface{}{"id": p.rec.ID})
	forceKill(proc)
}

func (s *Supervisor) get(id string) (*managed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Get returns the current record for id.
func (s *Supervisor) Get(id string) (Record, error) {
	p, err := s.get(id)
	if err != nil {
		return Record{}, err
	}
	return p.snapshot(), nil
}

// Poll returns the accumulated output and the delta since the previous Poll
// for id. If nothing new is available and the process is still running, it
// waits up to timeout for output or exit.
func (s *Supervisor) Poll(id string, timeout time.Duration) (*PollResult, error) {
	p, err := s.get(id)
	if err != nil {
		return nil, err
	}

	if timeout > 0 && !p.hasNews() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.changed:
		case <-p.done:
		case <-timer.C:
		}
	}

	// Snapshot under p.mu so concurrent polls see offsets and buffers agree.
	p.mu.Lock()
	defer p.mu.Unlock()
	stdout, _ := p.stdout.snapshot()
	stderr, _ := p.stderr.snapshot()
	res := &PollResult{
		Stdout:      stdout,
		Stderr:      stderr,
		StdoutDelta: stdout[p.stdoutOff:],
		StderrDelta: stderr[p.stderrOff:],
		State:       p.rec.State,
	}
	if p.rec.ExitCode != nil {
		code := *p.rec.ExitCode
		res.ExitCode = &code
	}
	p.stdoutOff = len(stdout)
	p.stderrOff = len(stderr)
	return res, nil
}

func (p *managed) hasNews() bool {
	stdout, _ := p.stdout.snapshot()
	stderr, _ := p.stderr.snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec.State.Terminal() {
		return true
	}
	return len(stdout) > p.stdoutOff || len(stderr) > p.stderrOff
}

// Write sends raw data to the process's stdin.
func (s *Supervisor) Write(id string, data []byte) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotRunning, id, p.rec.State)
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w", id, err)
	}
	return nil
}

// SendKeys encodes named keys and writes them in a single write.
func (s *Supervisor) SendKeys(id string, keys []string) error {
	seq, err := EncodeKeys(keys)
	if err != nil {
		return err
	}
	return s.Write(id, []byte(seq))
}

// Paste writes text wrapped in bracketed-paste markers.
func (s *Supervisor) Paste(id, text string) error {
	return s.Write(id, []byte(WrapPaste(text)))
}

// Kill sends sig (SIGTERM when nil) to the process group, waits the grace
// period, then force-kills. It returns once the process has exited or the
// force kill has been issued. Killing a terminated process is a no-op.
func (s *Supervisor) Kill(id string, sig os.Signal) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.rec.State.Terminal() {
		p.mu.Unlock()
		return nil
	}
	if !p.timedOut {
		p.killed = true
	}
	proc := p.cmd.Process
	p.mu.Unlock()

	if sig == nil {
		sig = defaultSignal
	}
	if err := signalGroup(proc, sig); err != nil {
		s.logger.Warn("signal failed", map[string]interface{}{"id": id, "error": err.Error()})
	}

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-p.done:
		return nil
	case <-grace.C:
	}

	if err := forceKill(proc); err != nil {
		s.logger.Warn("force kill failed", map[string]interface{}{"id": id, "error": err.Error()})
	}
	select {
	case <-p.done:
	case <-time.After(time.Second):
	}
	return nil
}

// List returns records matching filter, oldest first.
func (s *Supervisor) List(filter Filter) []Record {
	s.mu.Lock()
	source := s.records
	if filter.ActiveOnly {
		source = s.active
	}
	procs := make([]*managed, 0, len(source))
	for _, p := range source {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	var out []Record
	for _, p := range procs {
		rec := p.snapshot()
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.ScopeKey != "" && rec.ScopeKey != filter.ScopeKey {
			continue
		}
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CancelScope kills every active process tagged with key and returns how many
// were signalled.
func (s *Supervisor) CancelScope(key string) int {
	if key == "" {
		return 0
	}
	targets := s.List(Filter{ScopeKey: key, ActiveOnly: true})

	var wg sync.WaitGroup
	for _, rec := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Kill(id, nil)
		}(rec.ID)
	}
	wg.Wait()

	if len(targets) > 0 {
		s.logger.Info("scope cancelled", map[string]interface{}{
			"scope":     key,
			"processes": len(targets),
		})
	}
	return len(targets)
}

// Remove forgets a terminated process.
func (s *Supervisor) Remove(id string) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}
	if !p.snapshot().State.Terminal() {
		return fmt.Errorf("%w: %s is still active", ErrNotRunning, id)
	}
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Shutdown kills every active process.
func (s *Supervisor) Shutdown() {
	var wg sync.WaitGroup
	for _, rec := range s.List(Filter{ActiveOnly: true}) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Kill(id, nil)
		}(rec.ID)
	}
	wg.Wait()
}
