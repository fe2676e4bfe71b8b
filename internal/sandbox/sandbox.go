// Package sandbox runs commands inside a throwaway container, or directly on
// the host when no container runtime is available.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
)

// TimeoutExitCode is reported when a command is cut off by its timeout.
const TimeoutExitCode = 124

// ErrUnavailable is returned by Create when isolation is required but the
// container runtime cannot be used.
var ErrUnavailable = errors.New("sandbox runtime unavailable")

// ErrDestroyed is returned when operating on a destroyed context.
var ErrDestroyed = errors.New("sandbox destroyed")

// Config controls container creation.
type Config struct {
	Enabled          bool
	Runtime          string
	Image            string
	Network          bool
	Memory           string
	CPUs             string
	DefaultTimeout   time.Duration
	ContainerWorkdir string
	// RequireIsolation turns an unavailable runtime into ErrUnavailable
	// instead of degrading to host execution.
	RequireIsolation bool
	// DenyPrefixes extends DefaultDenyPrefixes; the built-in list always applies.
	DenyPrefixes     []string
}

// DefaultConfig returns container settings with sandboxing enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		Runtime:          "docker",
		Image:            "alpine:3.20",
		DefaultTimeout:   60 * time.Second,
		ContainerWorkdir: "/workspace",
	}
}

// Mount is an extra bind mount requested by the caller.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Context is one sandbox instance. An empty ContainerID means commands run
// on the host in HostWorkdir.
type Context struct {
	ContainerID      string
	HostWorkdir      string
	ContainerWorkdir string
	SessionID        string
	Mounts           []Mount
	CreatedAt        time.Time

	mu        sync.Mutex
	started   bool
	destroyed bool
}

// Degraded reports whether the context runs on the host.
func (c *Context) Degraded() bool { return c.ContainerID == "" }

// Started reports whether Start has run.
func (c *Context) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// ExecOptions tunes a single Exec call.
type ExecOptions struct {
	Timeout time.Duration
	Env     map[string]string
}

// ExecResult is always returned from Exec, including on timeout.
type ExecResult struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Manager creates and drives sandbox contexts.
type Manager struct {
	cfg    Config
	runner Runner
	logger *logging.Logger

	availOnce sync.Once
	available bool
}

// NewManager creates a manager. A nil runner uses HostRunner.
func NewManager(cfg Config, runner Runner) *Manager {
	if cfg.Runtime == "" {
		cfg.Runtime = "docker"
	}
	if cfg.ContainerWorkdir == "" {
		cfg.ContainerWorkdir = "/workspace"
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	cfg.DenyPrefixes = append(DefaultDenyPrefixes(), cfg.DenyPrefixes...)
	if runner == nil {
		runner = HostRunner{}
	}
	return &Manager{
		cfg:    cfg,
		runner: runner,
		logger: logging.New().WithComponent("sandbox"),
	}
}

// Available reports whether the container runtime answers. The probe runs once.
func (m *Manager) Available(ctx context.Context) bool {
	m.availOnce.Do(func() {
		if _, ok := m.runner.(HostRunner); ok {
			if _, err := exec.LookPath(m.cfg.Runtime); err != nil {
				return
			}
		}
		probe, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, _, code, err := m.runner.Run(probe, []string{m.cfg.Runtime, "version", "--format", "{{.Server.Version}}"}, "", nil)
		m.available = err == nil && code == 0
	})
	return m.available
}

// Create prepares a sandbox for hostWorkdir. Disallowed mounts are dropped;
// a disallowed workdir fails Create when it would be bind-mounted.
func (m *Manager) Create(ctx context.Context, hostWorkdir, sessionID string, extra []Mount) (*Context, error) {
	abs, err := filepath.Abs(hostWorkdir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}
	sc := &Context{
		HostWorkdir:      abs,
		ContainerWorkdir: m.cfg.ContainerWorkdir,
		SessionID:        sessionID,
		CreatedAt:        time.Now(),
	}
	for _, mt := range extra {
		if reason := m.checkMount(mt); reason != "" {
			m.logger.Warn("mount rejected", map[string]interface{}{
				"host_path": mt.HostPath,
				"reason":    reason,
				"session":   sessionID,
			})
			continue
		}
		sc.Mounts = append(sc.Mounts, mt)
	}

	if !m.cfg.Enabled || !m.Available(ctx) {
		if m.cfg.RequireIsolation {
			return nil, ErrUnavailable
		}
		m.logger.Info("sandbox degraded to host execution", map[string]interface{}{
			"workdir": abs,
			"enabled": m.cfg.Enabled,
		})
		return sc, nil
	}

	if reason := m.checkMount(Mount{HostPath: abs, ContainerPath: sc.ContainerWorkdir}); reason != "" {
		m.logger.Warn("workdir rejected", map[string]interface{}{
			"workdir": abs,
			"reason":  reason,
			"session": sessionID,
		})
		return nil, fmt.Errorf("workdir %s cannot be mounted: %s", abs, reason)
	}

	name := "agentcore-" + uuid.New().String()[:12]
	stdout, stderr, code, err := m.runner.Run(ctx, m.createArgs(name, sc), "", nil)
	if err != nil || code != 0 {
		if m.cfg.RequireIsolation {
			return nil, fmt.Errorf("%w: create failed: %s", ErrUnavailable, firstNonEmpty(strings.TrimSpace(string(stderr)), errString(err)))
		}
		m.logger.Warn("container create failed, using host", map[string]interface{}{
			"error":   firstNonEmpty(strings.TrimSpace(string(stderr)), errString(err)),
			"image":   m.cfg.Image,
			"runtime": m.cfg.Runtime,
		})
		return sc, nil
	}
	sc.ContainerID = strings.TrimSpace(string(stdout))
	if sc.ContainerID == "" {
		sc.ContainerID = name
	}
	m.logger.Info("sandbox created", map[string]interface{}{
		"container": sc.ContainerID,
		"workdir":   abs,
		"mounts":    len(sc.Mounts),
	})
	return sc, nil
}

func (m *Manager) createArgs(name string, sc *Context) []string {
	args := []string{
		m.cfg.Runtime, "create",
		"--name", name,
		"--security-opt", "no-new-privileges",
		"--cap-drop", "ALL",
		"--read-only",
		"--tmpfs", "/tmp",
	}
	if !m.cfg.Network {
		args = append(args, "--network", "none")
	}
	if m.cfg.Memory != "" {
		args = append(args, "--memory", m.cfg.Memory)
	}
	if m.cfg.CPUs != "" {
		args = append(args, "--cpus", m.cfg.CPUs)
	}
	args = append(args, "-v", sc.HostWorkdir+":"+sc.ContainerWorkdir)
	for _, mt := range sc.Mounts {
		spec := mt.HostPath + ":" + mt.ContainerPath
		if mt.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	args = append(args, "-w", sc.ContainerWorkdir, m.cfg.Image, "sleep", "infinity")
	return args
}

// Start boots the container. It is a no-op in degraded mode.
func (m *Manager) Start(ctx context.Context, sc *Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return ErrDestroyed
	}
	if sc.started {
		return nil
	}
	if sc.ContainerID != "" {
		_, stderr, code, err := m.runner.Run(ctx, []string{m.cfg.Runtime, "start", sc.ContainerID}, "", nil)
		if err != nil {
			return fmt.Errorf("start %s: %w", sc.ContainerID, err)
		}
		if code != 0 {
			return fmt.Errorf("start %s: %s", sc.ContainerID, strings.TrimSpace(string(stderr)))
		}
	}
	sc.started = true
	return nil
}

// Exec runs argv in the sandbox. The result is always non-nil; a timed-out
// command yields exit code 124.
func (m *Manager) Exec(ctx context.Context, sc *Context, argv []string, opts ExecOptions) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	sc.mu.Lock()
	destroyed, started := sc.destroyed, sc.started
	sc.mu.Unlock()
	if destroyed {
		return nil, ErrDestroyed
	}
	if !started {
		if err := m.Start(ctx, sc); err != nil {
			return nil, err
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	var full []string
	var dir string
	var env []string
	if sc.ContainerID == "" {
		full = argv
		dir = sc.HostWorkdir
		for k, v := range opts.Env {
			env = append(env, k+"="+v)
		}
	} else {
		full = []string{m.cfg.Runtime, "exec", "-w", sc.ContainerWorkdir}
		for k, v := range opts.Env {
			full = append(full, "-e", k+"="+v)
		}
		full = append(full, sc.ContainerID)
		full = append(full, argv...)
	}

	// The context kills the process; the timer below guarantees the call
	// returns even if the runner does not.
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		stdout, stderr []byte
		code           int
		err            error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		o, e, c, err := m.runner.Run(runCtx, full, dir, env)
		done <- outcome{o, e, c, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		if runCtx.Err() == context.DeadlineExceeded {
			return m.timedOut(argv, timeout, time.Since(start)), nil
		}
		if o.err != nil {
			return nil, fmt.Errorf("exec %s: %w", argv[0], o.err)
		}
		return &ExecResult{
			ExitCode: o.code,
			Stdout:   string(o.stdout),
			Stderr:   string(o.stderr),
			Duration: time.Since(start),
		}, nil
	case <-timer.C:
		return m.timedOut(argv, timeout, time.Since(start)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) timedOut(argv []string, timeout, elapsed time.Duration) *ExecResult {
	m.logger.Warn("sandbox exec timed out", map[string]interface{}{
		"command": argv[0],
		"timeout": timeout.String(),
	})
	return &ExecResult{
		ExitCode: TimeoutExitCode,
		Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		Duration: elapsed,
		TimedOut: true,
	}
}

// Stop halts the container without removing it.
func (m *Manager) Stop(ctx context.Context, sc *Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed || !sc.started {
		return nil
	}
	if sc.ContainerID != "" {
		if _, stderr, code, err := m.runner.Run(ctx, []string{m.cfg.Runtime, "stop", "-t", "2", sc.ContainerID}, "", nil); err != nil || code != 0 {
			return fmt.Errorf("stop %s: %s", sc.ContainerID, firstNonEmpty(strings.TrimSpace(string(stderr)), errString(err)))
		}
	}
	sc.started = false
	return nil
}

// Destroy removes the container. Safe to call repeatedly and on contexts
// that were never started.
func (m *Manager) Destroy(ctx context.Context, sc *Context) error {
	if sc == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.destroyed {
		return nil
	}
	sc.destroyed = true
	sc.started = false
	if sc.ContainerID == "" {
		return nil
	}
	_, stderr, code, err := m.runner.Run(ctx, []string{m.cfg.Runtime, "rm", "-f", sc.ContainerID}, "", nil)
	if err != nil || code != 0 {
		m.logger.Warn("container remove failed", map[string]interface{}{
			"container": sc.ContainerID,
			"error":     firstNonEmpty(strings.TrimSpace(string(stderr)), errString(err)),
		})
		return nil
	}
	m.logger.Debug("sandbox destroyed", map[string]interface{}{"container": sc.ContainerID})
	return nil
}

// DefaultDenyPrefixes lists host paths that may never be mounted.
func DefaultDenyPrefixes() []string {
	prefixes := []string{
		"/etc", "/proc", "/sys", "/dev", "/boot", "/root",
		"/var/run/docker.sock", "/run/docker.sock",
	}
	if home, err := os.UserHomeDir(); err == nil {
		for _, d := range []string{".ssh", ".aws", ".gnupg", ".kube", ".docker", ".config/gcloud"} {
			prefixes = append(prefixes, filepath.Join(home, d))
		}
	}
	return prefixes
}

func (m *Manager) checkMount(mt Mount) string {
	if mt.HostPath == "" || mt.ContainerPath == "" {
		return "empty path"
	}
	if !filepath.IsAbs(mt.ContainerPath) {
		return "container path must be absolute"
	}
	host, err := filepath.Abs(mt.HostPath)
	if err != nil {
		return "unresolvable host path"
	}
	if resolved, err := filepath.EvalSymlinks(host); err == nil {
		host = resolved
	}
	if host == "/" {
		return "host root"
	}
	for _, p := range m.cfg.DenyPrefixes {
		if host == p || strings.HasPrefix(host, strings.TrimSuffix(p, "/")+"/") {
			return "denied prefix " + p
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
