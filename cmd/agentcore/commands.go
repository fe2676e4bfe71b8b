package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/agentcore/internal/config"
	"github.com/vinayprograms/agentcore/internal/executor"
	"github.com/vinayprograms/agentcore/internal/replay"
	"github.com/vinayprograms/agentcore/internal/sandbox"
)

// taskFile is the --task-file document: either a bare task list or an
// object with parallel groups.
type taskFile struct {
	Tasks          []executor.Task `json:"tasks"`
	ParallelGroups [][]string      `json:"parallel_groups,omitempty"`
}

func loadTaskFile(path string) (*taskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	var tf taskFile
	if err := json.Unmarshal(data, &tf.Tasks); err == nil {
		return &tf, nil
	}
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	return &tf, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func workdir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	return os.Getwd()
}

// Run executes the decision loop.
func (c *RunCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	req := executor.Request{Intent: c.Goal, Context: c.Context}
	if c.TaskFile != "" {
		tf, err := loadTaskFile(c.TaskFile)
		if err != nil {
			return err
		}
		req.Tasks, req.ParallelGroups = tf.Tasks, tf.ParallelGroups
	}
	wd, err := workdir(c.Workspace)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt := newRuntime(cfg, globalCreds)
	defer rt.cleanup()

	if err := rt.createProvider(); err != nil {
		return err
	}
	if err := rt.setupStorage(); err != nil {
		return err
	}
	if err := rt.setupSkills(c.Skills); err != nil {
		return err
	}
	if err := rt.setupSandbox(ctx, wd); err != nil {
		return err
	}
	if err := rt.setupPolicy(ctx, c.Policy); err != nil {
		return err
	}
	if err := rt.setupApproval(c.NoApproval, c.Interactive && isTerminal(os.Stdin)); err != nil {
		return err
	}

	exec := rt.newExecutor(g.Debug)
	if !c.JSON {
		req.Hooks = progressHooks(os.Stderr, g.Debug)
		fmt.Fprintf(os.Stderr, "%s %s\n\n", titleStyle.Render("Running:"), c.Goal)
	}

	res := exec.Execute(ctx, req)

	if c.JSON {
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
	} else {
		printResult(os.Stdout, res)
	}
	if !res.Success {
		return exitCode(1)
	}
	return nil
}

// Run executes one command in a fresh sandbox and mirrors its exit code.
func (c *ExecCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	wd, err := workdir(c.Workspace)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	rt := newRuntime(cfg, globalCreds)
	defer rt.cleanup()
	if err := rt.setupSandbox(ctx, wd); err != nil {
		return err
	}

	res, err := rt.sandboxes.Exec(ctx, rt.session, c.Argv, sandbox.ExecOptions{Timeout: c.Timeout})
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	if res.TimedOut {
		fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("! timed out after %s", res.Duration)))
	}
	if res.ExitCode != 0 {
		return exitCode(res.ExitCode)
	}
	return nil
}

// Run evaluates the policy for one call.
func (c *CheckCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(c.Params), &params); err != nil {
		return fmt.Errorf("params must be a JSON object: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt := newRuntime(cfg, globalCreds)
	defer rt.cleanup()
	if err := rt.setupSkills(c.Skills); err != nil {
		return err
	}
	if err := rt.setupPolicy(ctx, c.Policy); err != nil {
		return err
	}

	res := rt.evaluator.Evaluate(ctx, c.Tool, params, rt.sessionID)
	printDecision(os.Stdout, c.Tool, res)
	if !res.Allowed {
		return exitCode(2)
	}
	return nil
}

// Run prints persisted approval resolutions.
func (c *AuditCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	rt := newRuntime(cfg, globalCreds)
	defer rt.cleanup()
	if err := rt.openStore(); err != nil {
		return err
	}
	if rt.store == nil {
		return fmt.Errorf("no database configured")
	}

	rs, err := rt.store.ListApprovals(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if c.JSON {
		out, _ := json.MarshalIndent(rs, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	renderAudit(os.Stdout, rs)
	return nil
}

// Run replays the event log, or the database's events with --db.
func (c *ReplayCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return err
	}

	var (
		source string
		show   func(r *replay.Replayer) error
	)
	if c.DB {
		if c.Live {
			return fmt.Errorf("--live follows an event log file, not the database")
		}
		rt := newRuntime(cfg, globalCreds)
		defer rt.cleanup()
		if err := rt.openStore(); err != nil {
			return err
		}
		if rt.store == nil {
			return fmt.Errorf("no database configured")
		}
		evs, err := rt.store.ListEvents(context.Background(), c.Session)
		if err != nil {
			return err
		}
		source = rt.store.Path()
		show = func(r *replay.Replayer) error { return r.ReplayEvents(evs, c.Session) }
	} else {
		source = c.File
		if source == "" {
			source = cfg.StoragePath(cfg.Storage.EventLog)
		}
		if source == "" {
			return fmt.Errorf("no event log configured")
		}
		show = func(r *replay.Replayer) error { return r.ReplayFile(source, c.Session) }
	}

	render := func() (string, error) {
		var buf strings.Builder
		err := show(replay.New(&buf, c.Verbose))
		return buf.String(), err
	}
	title := "Events: " + source
	switch {
	case c.Live:
		return replay.PageLive(title+" (LIVE)", source, render)
	case c.Pager:
		content, err := render()
		if err != nil {
			return err
		}
		return replay.Page(title, content)
	default:
		return show(replay.New(os.Stdout, c.Verbose))
	}
}

// Run writes a default config, filling in the provider from the model.
func (c *InitCmd) Run(g *Globals) error {
	cfg := config.New()
	if c.Model != "" {
		cfg.LLM.Model = c.Model
		cfg.LLM.Provider = llm.InferProviderFromModel(c.Model)
		cfg.LLM.APIKeyEnv = config.DefaultAPIKeyEnv(cfg.LLM.Provider)
	}
	if err := cfg.Save(c.Path, c.Force); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("✓ wrote " + c.Path))
	return nil
}
