package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
)

// Action is what the oracle asks the loop to do next.
type Action string

const (
	ActionExecute  Action = "execute"
	ActionAdjust   Action = "adjust"
	ActionComplete Action = "complete"
	ActionAbort    Action = "abort"
)

// Decision is one parsed oracle reply.
type Decision struct {
	Action    Action `json:"action"`
	TaskID    string `json:"task_id,omitempty"`
	Task      *Task  `json:"task,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Message   string `json:"message,omitempty"`

	// Fallback is set when the decision came from the heuristic instead of
	// the oracle.
	Fallback bool `json:"-"`
}

// decide asks the oracle for the next action. It never fails: oracle errors
// and unusable replies fall back to the heuristic.
func (e *Executor) decide(ctx context.Context, run *runState) Decision {
	st := run.state
	b := NewDecisionContextBuilder(run.id, st.Iterations, run.budget)
	b.SetIntent(run.req.Intent)
	b.SetBackground(run.req.Context)
	b.SetSummary(st.Summary)
	b.AddExecuted(st.Executed, e.cfg.RecentTasks)
	b.AddToolCalls(st.ToolCalls, e.cfg.RecentToolCalls)
	b.AddPending(st.Pending)
	b.SetError(st.LastToolError)
	if e.registry != nil {
		b.SetSkills(e.registry.Describe())
	}
	prompt := b.Build()

	if e.debug {
		e.logger.Debug("decision request", map[string]interface{}{"prompt": prompt})
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: decisionSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		e.logger.Warn("decision oracle error, using heuristic", map[string]interface{}{"error": err.Error()})
		run.hooks.onError(fmt.Errorf("decision: %w", err))
		return heuristic(st)
	}

	d, ok := parseDecision(resp.Content)
	if !ok {
		// Plain prose with nothing left to run is the answer itself.
		if len(st.Pending) == 0 {
			return Decision{Action: ActionComplete, Message: strings.TrimSpace(resp.Content)}
		}
		e.logger.Warn("unparseable decision, using heuristic", map[string]interface{}{
			"content": truncateForLog(resp.Content, 200),
		})
		return heuristic(st)
	}
	return d
}

// heuristic runs the next ready task, or completes when nothing is pending.
func heuristic(st *State) Decision {
	if t, ok := st.nextReady(); ok {
		return Decision{Action: ActionExecute, TaskID: t.ID, Reasoning: "fallback: next pending task", Fallback: true}
	}
	return Decision{Action: ActionComplete, Reasoning: "fallback: nothing pending", Fallback: true}
}

func parseDecision(content string) (Decision, bool) {
	raw := extractJSON(content)
	if raw == "" {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, false
	}
	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	switch d.Action {
	case ActionExecute, ActionAdjust, ActionComplete, ActionAbort:
		return d, true
	}
	return Decision{}, false
}

// replan asks the oracle for a fresh task list.
func (e *Executor) replan(ctx context.Context, run *runState) ([]Task, error) {
	st := run.state
	b := NewDecisionContextBuilder(run.id, st.Iterations, run.budget)
	b.SetIntent(run.req.Intent)
	b.SetBackground(run.req.Context)
	b.SetSummary(st.Summary)
	b.AddExecuted(st.Executed, e.cfg.RecentTasks)
	b.AddPending(st.Pending)
	b.SetError(st.LastToolError)
	if e.registry != nil {
		b.SetSkills(e.registry.Describe())
	}

	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: replanSystemPrompt},
			{Role: "user", Content: b.Build()},
		},
	})
	if err != nil {
		return nil, err
	}
	raw := extractJSON(resp.Content)
	if raw == "" {
		return nil, fmt.Errorf("replan reply has no JSON")
	}
	var plan struct {
		Tasks *[]Task `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("parse replan: %w", err)
	}
	if plan.Tasks == nil {
		return nil, fmt.Errorf("replan reply has no tasks field")
	}
	tasks := *plan.Tasks
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = run.nextTaskID()
		}
	}
	return tasks, nil
}

// finalMessage asks the oracle to summarize the run, falling back to a
// plain tally.
func (e *Executor) finalMessage(ctx context.Context, run *runState, note string) string {
	st := run.state
	b := NewDecisionContextBuilder(run.id, st.Iterations, run.budget)
	b.SetIntent(run.req.Intent)
	b.SetSummary(st.Summary)
	b.AddExecuted(st.Executed, e.cfg.RecentTasks)
	b.AddPending(st.Pending)

	prompt := b.Build()
	if note != "" {
		prompt += "\n\nNote: " + note
	}
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: finalSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err == nil {
		if msg := strings.TrimSpace(resp.Content); msg != "" {
			return msg
		}
	}
	return tally(st, note)
}

func tally(st *State, note string) string {
	ok := 0
	for _, tr := range st.Executed {
		if tr.Success {
			ok++
		}
	}
	msg := fmt.Sprintf("Ran %d tasks: %d succeeded, %d failed.", len(st.Executed), ok, len(st.Executed)-ok)
	if len(st.Pending) > 0 {
		msg += fmt.Sprintf(" %d tasks were not run.", len(st.Pending))
	}
	if note != "" {
		msg += " " + strings.ToUpper(note[:1]) + note[1:] + "."
	}
	return msg
}
