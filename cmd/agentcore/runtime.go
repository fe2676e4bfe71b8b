// Package main provides the runtime wiring shared by the commands.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/checkpoint"
	"github.com/vinayprograms/agentcore/internal/config"
	"github.com/vinayprograms/agentcore/internal/events"
	"github.com/vinayprograms/agentcore/internal/executor"
	"github.com/vinayprograms/agentcore/internal/gate"
	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/memory"
	"github.com/vinayprograms/agentcore/internal/policy"
	"github.com/vinayprograms/agentcore/internal/process"
	"github.com/vinayprograms/agentcore/internal/sandbox"
	"github.com/vinayprograms/agentcore/internal/skills"
	"github.com/vinayprograms/agentcore/internal/store"
)

// runtime owns every layer a command may need. Setup steps are separate so
// commands only build what they use.
type runtime struct {
	cfg       *config.Config
	creds     *credentials.Credentials
	sessionID string
	logger    *logging.Logger

	provider    llm.Provider
	registry    *skills.Registry
	procs       *process.Supervisor
	sandboxes   *sandbox.Manager
	session     *sandbox.Context
	evaluator   gate.Evaluator
	approvals   *approval.Manager
	gate        *gate.Gate
	locks       *locks.Manager
	store       *store.Store
	events      *events.Multi
	checkpoints *checkpoint.Store

	// Cleanup
	closers []func()
}

func newRuntime(cfg *config.Config, creds *credentials.Credentials) *runtime {
	return &runtime{
		cfg:       cfg,
		creds:     creds,
		sessionID: uuid.NewString(),
		logger:    logging.New().WithComponent("cli"),
		locks:     locks.NewManager(),
		events:    events.NewMulti(),
	}
}

// loadConfig reads the explicit config path or agentcore.toml.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadDefault()
}

// createProvider creates the oracle.
func (rt *runtime) createProvider() error {
	llmProvider := rt.cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if llmProvider == "" && rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured")
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:    llmProvider,
		Model:       rt.cfg.LLM.Model,
		APIKey:      rt.apiKey(llmProvider),
		MaxTokens:   rt.cfg.LLM.MaxTokens,
		BaseURL:     rt.cfg.LLM.BaseURL,
		Thinking:    llm.ThinkingConfig{Level: llm.ThinkingLevel(rt.cfg.LLM.Thinking)},
		RetryConfig: parseRetryConfig(rt.cfg.LLM.MaxRetries, rt.cfg.LLM.RetryBackoff),
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	return nil
}

// apiKey prefers the credentials file, then the configured env var.
func (rt *runtime) apiKey(provider string) string {
	if rt.creds != nil {
		if key := rt.creds.GetAPIKey(provider); key != "" {
			return key
		}
	}
	return rt.cfg.GetAPIKey()
}

// setupSandbox creates the session sandbox every top-level task runs in,
// when workdir is set. Skills load first so their directories are mounted.
func (rt *runtime) setupSandbox(ctx context.Context, workdir string) error {
	if rt.sandboxes == nil {
		rt.sandboxes = sandbox.NewManager(rt.cfg.SandboxConfig(), nil)
	}
	if workdir == "" {
		return nil
	}
	var mounts []sandbox.Mount
	if rt.registry != nil {
		mounts = skills.Mounts(rt.registry)
	}
	sc, err := rt.sandboxes.Create(ctx, workdir, rt.sessionID, mounts)
	if err != nil {
		return fmt.Errorf("creating sandbox: %w", err)
	}
	rt.session = sc
	rt.addCloser(func() {
		if err := rt.sandboxes.Destroy(context.Background(), sc); err != nil {
			rt.logger.Warn("sandbox destroy failed", map[string]interface{}{"error": err.Error()})
		}
	})
	if sc.Degraded() {
		fmt.Fprintln(os.Stderr, warnStyle.Render("! container runtime unavailable, running on the host"))
	}
	return nil
}

// setupSkills registers the built-in skills and every SKILL.md skill under
// the configured and requested directories.
func (rt *runtime) setupSkills(dirs []string) error {
	rt.registry = skills.NewRegistry()
	if rt.sandboxes == nil {
		rt.sandboxes = sandbox.NewManager(rt.cfg.SandboxConfig(), nil)
	}
	rt.procs = process.NewSupervisor(rt.cfg.ProcessConfig())
	rt.addCloser(rt.procs.Shutdown)

	for _, s := range []skills.Skill{skills.NewExecSkill(rt.sandboxes), skills.NewProcessSkill(rt.procs)} {
		if err := rt.registry.Register(s); err != nil {
			return err
		}
	}

	all := append(append([]string(nil), rt.cfg.Agent.Skills...), dirs...)
	for _, dir := range all {
		problems, err := skills.LoadAll(config.ExpandHome(dir), rt.registry, rt.sandboxes)
		if err != nil {
			return fmt.Errorf("loading skills from %s: %w", dir, err)
		}
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, warnStyle.Render("! skipped skill: "+p.Error()))
		}
	}
	return nil
}

// setupPolicy builds the pipeline. A watched policy file is reloaded until
// ctx is done.
func (rt *runtime) setupPolicy(ctx context.Context, override string) error {
	if override != "" {
		rt.cfg.Policy.File = override
	}
	var src policy.SchemaSource
	if rt.registry != nil {
		src = rt.registry
	}

	if rt.cfg.Policy.File != "" && rt.cfg.Policy.Watch {
		w, err := policy.NewWatcher(config.ExpandHome(rt.cfg.Policy.File), src)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Warn("policy watcher stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
		rt.evaluator = w
		return nil
	}

	p, err := rt.cfg.PolicyPipeline(src)
	if err != nil {
		return err
	}
	rt.evaluator = p
	return nil
}

// setupStorage opens the sqlite store, the JSONL event log, the optional
// NATS publisher and the checkpoint store.
func (rt *runtime) setupStorage() error {
	cfg := rt.cfg

	if err := rt.openStore(); err != nil {
		return err
	}
	if rt.store != nil {
		rt.events.Add(rt.store)
	}

	if path := cfg.StoragePath(cfg.Storage.EventLog); path != "" {
		fs, err := events.OpenFile(path)
		if err != nil {
			return err
		}
		rt.events.Add(fs)
		rt.addCloser(func() { fs.Close() })
	}

	if cfg.Events.NATSURL != "" {
		nc, err := events.Connect(cfg.Events.NATSURL, "agentcore-"+rt.sessionID[:8])
		if err != nil {
			// Events still reach the local sinks.
			rt.logger.Warn("NATS unavailable", map[string]interface{}{"url": cfg.Events.NATSURL, "error": err.Error()})
		} else {
			rt.events.Add(events.NewNATSSink(nc, cfg.Events.SubjectPrefix))
			rt.addCloser(func() { nc.Drain() })
		}
	}

	if cfg.Loop.Checkpoints {
		if dir := cfg.StoragePath(cfg.Storage.Checkpoints); dir != "" {
			cs, err := checkpoint.NewStore(dir)
			if err != nil {
				return err
			}
			rt.checkpoints = cs
		}
	}
	return nil
}

// openStore opens the sqlite database, if one is configured.
func (rt *runtime) openStore() error {
	path := rt.cfg.StoragePath(rt.cfg.Storage.Database)
	if path == "" {
		return nil
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	rt.store = st
	rt.addCloser(func() { st.Close() })
	return nil
}

// setupApproval creates the approval manager and the gate. Interactive runs
// prompt on the terminal; otherwise flagged calls wait until they expire.
func (rt *runtime) setupApproval(disabled, interactive bool) error {
	acfg := rt.cfg.ApprovalConfig()
	if disabled {
		acfg.Enabled = false
	}
	mgr, err := approval.NewManager(acfg)
	if err != nil {
		return err
	}
	if rt.store != nil {
		mgr.SetAuditSink(rt.store)
	}
	if interactive && acfg.Enabled {
		approval.NewTerminalApprover(mgr, nil, os.Stderr, currentUser()).Attach()
	}
	rt.approvals = mgr
	rt.gate = gate.New(rt.evaluator, mgr)
	return nil
}

// newExecutor wires one decision loop to the shared layers.
func (rt *runtime) newExecutor(debug bool) *executor.Executor {
	exec := executor.NewExecutor(rt.provider, rt.registry, rt.cfg.ExecutorConfig())
	exec.SetSession(rt.sessionID, exec.ScopeKey())
	exec.SetLocks(rt.locks)
	exec.SetDebug(debug)
	exec.SetMemory(memory.NewRecorder(rt.memoryStore(), rt.sessionID))
	if rt.gate != nil {
		exec.SetGate(rt.gate)
	}
	if rt.session != nil {
		exec.SetSandbox(rt.session)
	}
	if rt.events.Len() > 0 {
		exec.SetEvents(rt.events)
	}
	if rt.checkpoints != nil {
		exec.SetCheckpoints(rt.checkpoints)
	}
	return exec
}

// memoryStore persists outcomes in the database when there is one.
func (rt *runtime) memoryStore() memory.Store {
	if rt.store != nil {
		return rt.store
	}
	return memory.NewInMemoryStore(0)
}

// cleanup runs all registered cleanup functions.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// parseRetryConfig converts config values to RetryConfig.
func parseRetryConfig(maxRetries int, backoffStr string) llm.RetryConfig {
	cfg := llm.RetryConfig{
		MaxRetries: maxRetries,
	}
	if backoffStr != "" {
		if d, err := time.ParseDuration(backoffStr); err == nil {
			cfg.MaxBackoff = d
		}
	}
	return cfg
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "terminal"
}
