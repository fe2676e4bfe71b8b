package executor

import (
	"sort"
	"time"

	"github.com/vinayprograms/agentcore/internal/checkpoint"
	"github.com/vinayprograms/agentcore/internal/policy"
)

// Task is one unit of work the loop may execute.
type Task struct {
	ID           string                 `json:"id"`
	Description  string                 `json:"description"`
	SkillName    string                 `json:"skill"`
	Params       map[string]interface{} `json:"params,omitempty"`
	RiskLevel    policy.Risk            `json:"risk,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

// Correction is one automatic parameter repair.
type Correction struct {
	Field string `json:"field"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// TaskResult is the outcome of running one task.
type TaskResult struct {
	TaskID      string        `json:"task_id"`
	Skill       string        `json:"skill"`
	Success     bool          `json:"success"`
	Output      string        `json:"output,omitempty"`
	Data        interface{}   `json:"data,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorType   string        `json:"error_type,omitempty"`
	Attempts    int           `json:"attempts"`
	Corrections []Correction  `json:"corrections,omitempty"`
	Duration    time.Duration `json:"duration"`
	Compacted   bool          `json:"compacted,omitempty"`
}

// ToolCall is one skill invocation as seen by the loop.
type ToolCall struct {
	CorrelationID string
	TaskID        string
	Tool          string
	Params        map[string]interface{}
	Success       bool
	Error         string
	Duration      time.Duration
}

// ToolError describes the last failed call for the next decision.
type ToolError struct {
	TaskID       string
	Tool         string
	Error        string
	Field        string
	ValidOptions []string
}

// State is owned by one Execute call and never shared.
type State struct {
	Executed                []TaskResult
	Pending                 []Task
	Errors                  []string
	Iterations              int
	ToolCalls               []ToolCall
	ContextTokens           int
	LastToolError           *ToolError
	ErrorTypes              map[string]struct{}
	ParamValidationFailures int
	StrategyAdjusted        bool
	Summary                 string
}

func newState(pending []Task) *State {
	return &State{
		Pending:    pending,
		ErrorTypes: make(map[string]struct{}),
	}
}

// take removes and returns the pending task with id.
func (s *State) take(id string) (Task, bool) {
	for i, t := range s.Pending {
		if t.ID == id {
			s.Pending = append(s.Pending[:i:i], s.Pending[i+1:]...)
			return t, true
		}
	}
	return Task{}, false
}

// nextReady returns the first pending task whose dependencies have all run.
func (s *State) nextReady() (Task, bool) {
	done := make(map[string]bool, len(s.Executed))
	for _, tr := range s.Executed {
		done[tr.TaskID] = true
	}
	for _, t := range s.Pending {
		ready := true
		for _, dep := range t.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return t, true
		}
	}
	if len(s.Pending) > 0 {
		return s.Pending[0], true
	}
	return Task{}, false
}

func (s *State) addError(errType, msg string) {
	s.Errors = append(s.Errors, msg)
	if errType != "" {
		s.ErrorTypes[errType] = struct{}{}
	}
}

// keepRecentOutputs drops output text from all but the last n results.
func (s *State) keepRecentOutputs(n int) {
	for i := 0; i < len(s.Executed)-n; i++ {
		if s.Executed[i].Output != "" {
			s.Executed[i].Output = ""
			s.Executed[i].Compacted = true
		}
	}
}

func (s *State) errorTypeList() []string {
	out := make([]string, 0, len(s.ErrorTypes))
	for t := range s.ErrorTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *State) snapshot(runID string, maxIter int, d Decision) *checkpoint.Snapshot {
	snap := &checkpoint.Snapshot{
		RunID:            runID,
		Iteration:        s.Iterations,
		MaxIterations:    maxIter,
		Action:           string(d.Action),
		Reason:           d.Reasoning,
		Errors:           append([]string(nil), s.Errors...),
		ErrorTypes:       s.errorTypeList(),
		ToolCalls:        len(s.ToolCalls),
		ContextTokens:    s.ContextTokens,
		StrategyAdjusted: s.StrategyAdjusted,
	}
	for _, tr := range s.Executed {
		snap.Executed = append(snap.Executed, checkpoint.TaskOutcome{
			TaskID:  tr.TaskID,
			Skill:   tr.Skill,
			Success: tr.Success,
			Output:  truncateForLog(tr.Output, 500),
			Error:   tr.Error,
		})
	}
	for _, t := range s.Pending {
		snap.Pending = append(snap.Pending, t.ID)
	}
	return snap
}

// orderTasks puts tasks named in parallel groups first, group by group,
// followed by the rest in their given order.
func orderTasks(tasks []Task, groups [][]string) []Task {
	if len(groups) == 0 {
		return append([]Task(nil), tasks...)
	}
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	used := make(map[string]bool, len(tasks))
	out := make([]Task, 0, len(tasks))
	for _, g := range groups {
		for _, id := range g {
			if t, ok := byID[id]; ok && !used[id] {
				out = append(out, t)
				used[id] = true
			}
		}
	}
	for _, t := range tasks {
		if !used[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
