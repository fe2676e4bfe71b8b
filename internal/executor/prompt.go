package executor

import (
	"fmt"
	"sort"
	"strings"
)

// DecisionContextBuilder builds the XML-structured decision request sent to
// the oracle on every iteration.
type DecisionContextBuilder struct {
	runID      string
	iteration  int
	budget     int
	intent     string
	background string
	summary    string
	executed   []TaskResult
	toolCalls  []ToolCall
	pending    []Task
	lastError  *ToolError
	skills     string
}

// NewDecisionContextBuilder starts a request for one iteration.
func NewDecisionContextBuilder(runID string, iteration, budget int) *DecisionContextBuilder {
	return &DecisionContextBuilder{runID: runID, iteration: iteration, budget: budget}
}

func (b *DecisionContextBuilder) SetIntent(intent string)         { b.intent = intent }
func (b *DecisionContextBuilder) SetBackground(background string) { b.background = background }
func (b *DecisionContextBuilder) SetSummary(summary string)       { b.summary = summary }
func (b *DecisionContextBuilder) SetSkills(desc string)           { b.skills = desc }
func (b *DecisionContextBuilder) SetError(te *ToolError)          { b.lastError = te }

// AddExecuted keeps only the last n results.
func (b *DecisionContextBuilder) AddExecuted(results []TaskResult, n int) {
	b.executed = lastN(results, n)
}

// AddToolCalls keeps only the last n calls.
func (b *DecisionContextBuilder) AddToolCalls(calls []ToolCall, n int) {
	b.toolCalls = lastN(calls, n)
}

func (b *DecisionContextBuilder) AddPending(tasks []Task) {
	b.pending = tasks
}

// Build generates the request.
func (b *DecisionContextBuilder) Build() string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("<run id=%q iteration=\"%d\" max-iterations=\"%d\">\n", b.runID, b.iteration, b.budget))

	writeBlock(&buf, "intent", "", b.intent)
	writeBlock(&buf, "background", "", b.background)
	writeBlock(&buf, "summary", ` source="compaction"`, b.summary)

	if len(b.executed) > 0 {
		buf.WriteString("\n<executed>\n")
		for _, tr := range b.executed {
			status := "ok"
			if !tr.Success {
				status = "error"
			}
			buf.WriteString(fmt.Sprintf("  <task id=%q skill=%q status=%q>\n", tr.TaskID, tr.Skill, status))
			body := outputOrError(tr)
			if tr.Compacted && body == "" {
				body = "(output compacted)"
			}
			writeLine(&buf, body)
			buf.WriteString("  </task>\n")
		}
		buf.WriteString("</executed>\n")
	}

	if len(b.toolCalls) > 0 {
		buf.WriteString("\n<tool-calls>\n")
		for _, tc := range b.toolCalls {
			status := "ok"
			if !tc.Success {
				status = "error"
			}
			buf.WriteString(fmt.Sprintf("  <call tool=%q task=%q status=%q>%s</call>\n", tc.Tool, tc.TaskID, status, formatParams(tc.Params)))
		}
		buf.WriteString("</tool-calls>\n")
	}

	buf.WriteString("\n<pending>\n")
	for _, t := range b.pending {
		buf.WriteString(fmt.Sprintf("  <task id=%q skill=%q", t.ID, t.SkillName))
		if len(t.Dependencies) > 0 {
			buf.WriteString(fmt.Sprintf(" depends-on=%q", strings.Join(t.Dependencies, ",")))
		}
		buf.WriteString(">")
		buf.WriteString(t.Description)
		if len(t.Params) > 0 {
			buf.WriteString(" " + formatParams(t.Params))
		}
		buf.WriteString("</task>\n")
	}
	buf.WriteString("</pending>\n")

	if te := b.lastError; te != nil {
		buf.WriteString(fmt.Sprintf("\n<error-guidance tool=%q task=%q>\n", te.Tool, te.TaskID))
		buf.WriteString("<error>\n")
		writeLine(&buf, te.Error)
		buf.WriteString("</error>\n")
		if te.Field != "" {
			buf.WriteString(fmt.Sprintf("<field name=%q>\n", te.Field))
			if len(te.ValidOptions) > 0 {
				buf.WriteString("valid values: " + strings.Join(te.ValidOptions, ", ") + "\n")
			}
			buf.WriteString("</field>\n")
		}
		buf.WriteString("Fix the parameters and retry, adjust the plan, or abort if the goal cannot be met.\n")
		buf.WriteString("</error-guidance>\n")
	}

	writeBlock(&buf, "skills", "", b.skills)

	buf.WriteString("\n</run>")
	return buf.String()
}

func writeBlock(buf *strings.Builder, tag, attrs, body string) {
	if body == "" {
		return
	}
	buf.WriteString(fmt.Sprintf("\n<%s%s>\n", tag, attrs))
	writeLine(buf, body)
	buf.WriteString(fmt.Sprintf("</%s>\n", tag))
}

func writeLine(buf *strings.Builder, s string) {
	buf.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		buf.WriteString("\n")
	}
}

// formatParams renders params as sorted key=value pairs.
func formatParams(params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, truncateForLog(fmt.Sprint(params[k]), 200))
	}
	return strings.Join(parts, " ")
}

func lastN[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

const decisionSystemPrompt = `You drive a task execution loop. Each turn you receive the run state and choose the next action.

Reply with a single JSON object:
{"action": "execute|adjust|complete|abort", "task_id": "...", "task": {...}, "reasoning": "...", "message": "..."}

- execute: run the pending task named by task_id, or a new task given in "task" as {"id", "description", "skill", "params"}.
- adjust: the current plan no longer fits; a new task list will be requested.
- complete: the goal is met; put the answer for the user in "message".
- abort: the goal cannot be met; put the reason in "message".

When an <error-guidance> block is present, prefer fixing the failing parameters over repeating the same call.`

const replanSystemPrompt = `The previous plan needs adjusting. Using the run state, return the remaining work as JSON:
{"tasks": [{"id": "...", "description": "...", "skill": "...", "params": {...}, "dependencies": ["..."]}]}
Return an empty list when nothing is left to do.`

const finalSystemPrompt = `Write the final message for the user from the run state below. Say what was done, what failed, and any result they asked for. Be concise.`
