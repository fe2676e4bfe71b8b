// Package executor implements the decision loop: it asks an LLM oracle for
// the next action, runs tasks against the skill registry behind the policy
// gate, and keeps going until the work is done, aborted or out of budget.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/agentcore/internal/checkpoint"
	"github.com/vinayprograms/agentcore/internal/events"
	"github.com/vinayprograms/agentcore/internal/gate"
	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/sandbox"
	"github.com/vinayprograms/agentcore/internal/skills"
)

// Authorizer is satisfied by *gate.Gate.
type Authorizer interface {
	Authorize(ctx context.Context, tool string, params map[string]interface{}, sessionID string) (*gate.Authorization, error)
}

// Operation is what the memory sink hears about a finished task.
type Operation struct {
	Skill       string
	TaskID      string
	Description string
	Error       string
	Duration    time.Duration
}

// MemorySink receives fire-and-forget outcome signals. It is never read back.
type MemorySink interface {
	RecordSuccess(op Operation)
	RecordFailure(op Operation)
}

// Hooks stream loop activity to a front end. Every field is optional.
type Hooks struct {
	BeforeToolCall func(ev events.ToolCallEvent)
	AfterToolCall  func(ev events.ToolResultEvent)
	OnThinking     func(reasoning string)
	OnContent      func(content string)
	OnError        func(err error)
}

func (h *Hooks) beforeToolCall(ev events.ToolCallEvent) {
	if h != nil && h.BeforeToolCall != nil {
		h.BeforeToolCall(ev)
	}
}

func (h *Hooks) afterToolCall(ev events.ToolResultEvent) {
	if h != nil && h.AfterToolCall != nil {
		h.AfterToolCall(ev)
	}
}

func (h *Hooks) onThinking(s string) {
	if h != nil && h.OnThinking != nil && s != "" {
		h.OnThinking(s)
	}
}

func (h *Hooks) onContent(s string) {
	if h != nil && h.OnContent != nil {
		h.OnContent(s)
	}
}

func (h *Hooks) onError(err error) {
	if h != nil && h.OnError != nil {
		h.OnError(err)
	}
}

// Request is one call to Execute.
type Request struct {
	Tasks []Task
	// ParallelGroups only order the initial queue; tasks still run one at a
	// time.
	ParallelGroups [][]string
	Context        string
	Intent         string
	Hooks          *Hooks
}

// Result is what Execute returns. Output of older task results may have
// been shortened by compaction; Data is left intact.
type Result struct {
	RunID            string
	Success          bool
	TaskResults      []TaskResult
	Errors           []string
	FinalMessage     string
	Iterations       int
	ToolCalls        int
	StrategyAdjusted bool
	Duration         time.Duration
}

// Executor runs decision loops. One Execute call owns its state, so an
// executor may serve several runs, but each run is strictly sequential.
type Executor struct {
	provider    llm.Provider
	registry    *skills.Registry
	gate        Authorizer
	locks       *locks.Manager
	sandbox     *sandbox.Context
	estimator   TokenEstimator
	memory      MemorySink
	events      events.Sink
	checkpoints *checkpoint.Store
	cfg         Config
	logger      *logging.Logger

	sessionID string
	scopeKey  string

	// Debug mode - when true, logs full prompts
	debug bool
}

// NewExecutor creates an executor. A zero Config means DefaultConfig.
func NewExecutor(provider llm.Provider, registry *skills.Registry, cfg Config) *Executor {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Executor{
		provider:  provider,
		registry:  registry,
		estimator: CharEstimator{},
		cfg:       cfg,
		logger:    logging.New().WithComponent("executor"),
		sessionID: uuid.NewString(),
		scopeKey:  "loop-" + uuid.NewString()[:8],
	}
}

// SetGate routes every tool call through a. Without a gate all calls run.
func (e *Executor) SetGate(a Authorizer) { e.gate = a }

// SetLocks enables resource claims.
func (e *Executor) SetLocks(m *locks.Manager) { e.locks = m }

// SetSandbox sets the context skills run in.
func (e *Executor) SetSandbox(sc *sandbox.Context) { e.sandbox = sc }

// SetEstimator replaces the character heuristic.
func (e *Executor) SetEstimator(est TokenEstimator) { e.estimator = est }

func (e *Executor) SetMemory(m MemorySink)                { e.memory = m }
func (e *Executor) SetEvents(s events.Sink)               { e.events = s }
func (e *Executor) SetCheckpoints(s *checkpoint.Store)    { e.checkpoints = s }
func (e *Executor) SetDebug(debug bool)                   { e.debug = debug }
func (e *Executor) SetSession(sessionID, scopeKey string) { e.sessionID, e.scopeKey = sessionID, scopeKey }

// ScopeKey tags processes and lock claims made by this executor.
func (e *Executor) ScopeKey() string { return e.scopeKey }

// runState bundles what one Execute call threads through its helpers.
type runState struct {
	id      string
	req     Request
	hooks   *Hooks
	state   *State
	budget  int
	taskSeq int
}

func (r *runState) nextTaskID() string {
	r.taskSeq++
	return fmt.Sprintf("task-%d", r.taskSeq)
}

// Execute drives tasks to completion. It never returns an error: every
// failure ends up in the Result with FinalMessage populated.
func (e *Executor) Execute(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	run := &runState{id: uuid.NewString(), req: req, hooks: req.Hooks}
	tasks := make([]Task, len(req.Tasks))
	for i, t := range req.Tasks {
		if t.ID == "" {
			t.ID = run.nextTaskID()
		}
		tasks[i] = t
	}
	run.state = newState(orderTasks(tasks, req.ParallelGroups))
	initial := len(tasks)
	st := run.state

	e.logger.ExecutionStart(run.id)
	ctx, span := e.startRunSpan(ctx, run.id, initial)

	res = &Result{RunID: run.id}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("decision loop panic", map[string]interface{}{"panic": fmt.Sprint(r)})
			st.addError(ErrTypeInternal, fmt.Sprint(r))
			e.fill(res, st, false, "The run stopped on an internal error.")
			run.hooks.onError(fmt.Errorf("internal error: %v", r))
		}
		res.Duration = time.Since(start)
		status := "complete"
		if !res.Success {
			status = "failed"
		}
		e.logger.ExecutionComplete(run.id, res.Duration, status)
		e.endRunSpan(span, res)
	}()

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("run cancelled", map[string]interface{}{"run": run.id, "iterations": st.Iterations})
			return e.finish(run, res, false, fmt.Sprintf("Run cancelled after %d iterations: %v", st.Iterations, err))
		}

		run.budget = e.cfg.Budget(len(st.ErrorTypes))
		if st.Iterations >= run.budget {
			note := fmt.Sprintf("stopped after reaching the iteration budget of %d", run.budget)
			e.logger.Warn("iteration budget reached", map[string]interface{}{"run": run.id, "budget": run.budget})
			success := len(st.Pending) == 0 && st.LastToolError == nil
			return e.finish(run, res, success, e.finalMessage(ctx, run, note))
		}

		if st.Iterations > 0 && len(st.Pending) == 0 && st.Iterations >= initial && st.LastToolError == nil {
			return e.finish(run, res, true, e.finalMessage(ctx, run, ""))
		}

		st.Iterations++
		itCtx, itSpan := e.startIterationSpan(ctx, st.Iterations, run.budget)
		d := e.decide(itCtx, run)
		run.hooks.onThinking(d.Reasoning)
		e.logger.Debug("decision", map[string]interface{}{
			"iteration": st.Iterations,
			"action":    string(d.Action),
			"task":      d.TaskID,
			"fallback":  d.Fallback,
		})

		switch d.Action {
		case ActionExecute:
			task, ok := e.selectTask(run, d)
			if !ok {
				// Nothing runnable; let the next decision see the queue again.
				st.addError(ErrTypeNotFound, fmt.Sprintf("iteration %d: no pending task %q", st.Iterations, d.TaskID))
				break
			}
			e.recordTask(run, e.runTask(itCtx, run, task))

		case ActionAdjust:
			st.StrategyAdjusted = true
			tasks, err := e.replan(itCtx, run)
			if err != nil {
				e.logger.Warn("replan failed, keeping current plan", map[string]interface{}{"error": err.Error()})
			} else {
				st.Pending = tasks
			}
			st.LastToolError = nil

		case ActionComplete:
			msg := d.Message
			if msg == "" {
				msg = e.finalMessage(itCtx, run, "")
			}
			e.endIterationSpan(itSpan, d)
			e.saveCheckpoint(run, d)
			return e.finish(run, res, true, msg)

		case ActionAbort:
			reason := d.Message
			if reason == "" {
				reason = d.Reasoning
			}
			if reason == "" {
				reason = "no reason given"
			}
			e.endIterationSpan(itSpan, d)
			e.saveCheckpoint(run, d)
			return e.finish(run, res, false, "Aborted: "+reason)
		}

		e.maybeCompact(itCtx, st)
		e.endIterationSpan(itSpan, d)
		e.saveCheckpoint(run, d)
	}
}

// selectTask resolves the decision to a task and removes it from the queue.
func (e *Executor) selectTask(run *runState, d Decision) (Task, bool) {
	st := run.state
	if d.TaskID != "" {
		if t, ok := st.take(d.TaskID); ok {
			return t, true
		}
	}
	if d.Task != nil && d.Task.SkillName != "" {
		t := *d.Task
		if t.ID == "" {
			t.ID = run.nextTaskID()
		}
		st.take(t.ID)
		return t, true
	}
	if d.TaskID == "" {
		if t, ok := st.nextReady(); ok {
			return st.take(t.ID)
		}
	}
	return Task{}, false
}

// recordTask folds a task result into the state.
func (e *Executor) recordTask(run *runState, tr TaskResult) {
	st := run.state
	st.Executed = append(st.Executed, tr)
	st.ContextTokens += e.estimator.Estimate(tr.Output) + e.estimator.Estimate(tr.Error)

	op := Operation{Skill: tr.Skill, TaskID: tr.TaskID, Error: tr.Error, Duration: tr.Duration}
	if tr.Success {
		st.LastToolError = nil
		if e.memory != nil {
			e.memory.RecordSuccess(op)
		}
		return
	}
	st.addError(tr.ErrorType, fmt.Sprintf("task %s (%s): %s", tr.TaskID, tr.Skill, tr.Error))
	if e.memory != nil {
		e.memory.RecordFailure(op)
	}
	run.hooks.onError(fmt.Errorf("task %s: %s", tr.TaskID, tr.Error))
}

func (e *Executor) fill(res *Result, st *State, success bool, msg string) {
	res.Success = success
	res.FinalMessage = msg
	res.TaskResults = st.Executed
	res.Errors = st.Errors
	res.Iterations = st.Iterations
	res.ToolCalls = len(st.ToolCalls)
	res.StrategyAdjusted = st.StrategyAdjusted
}

func (e *Executor) finish(run *runState, res *Result, success bool, msg string) *Result {
	e.fill(res, run.state, success, msg)
	run.hooks.onContent(msg)
	return res
}

func (e *Executor) saveCheckpoint(run *runState, d Decision) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.Save(run.state.snapshot(run.id, run.budget, d)); err != nil {
		e.logger.Warn("checkpoint save failed", map[string]interface{}{"error": err.Error()})
	}
}
