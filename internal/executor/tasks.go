package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/schema"
	"github.com/vinayprograms/agentcore/internal/skills"
)

// ParamError is a parameter validation failure for one skill call.
type ParamError struct {
	Skill        string
	Field        string
	ValidOptions []string
	Message      string
}

func (e *ParamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("invalid parameter %s for %s", e.Field, e.Skill)
}

// SkillError is a skill that ran and reported failure.
type SkillError struct {
	Skill   string
	Message string
}

func (e *SkillError) Error() string { return e.Message }

// runTask resolves, validates, authorizes and runs one task. Enum
// violations are repaired by substituting the first valid value, at most
// cfg.MaxCorrections times; the returned result then carries the first
// error seen.
func (e *Executor) runTask(ctx context.Context, run *runState, task Task) TaskResult {
	start := time.Now()
	st := run.state
	tr := TaskResult{TaskID: task.ID, Skill: task.SkillName}

	fail := func(err error) TaskResult {
		tr.Success = false
		tr.Error = err.Error()
		tr.ErrorType = ClassifyError(err)
		tr.Duration = time.Since(start)
		var pe *ParamError
		te := &ToolError{TaskID: task.ID, Tool: tr.Skill, Error: tr.Error}
		if errors.As(err, &pe) {
			te.Field = pe.Field
			te.ValidOptions = pe.ValidOptions
		}
		st.LastToolError = te
		e.logger.Warn("task failed", map[string]interface{}{
			"task":       task.ID,
			"skill":      tr.Skill,
			"error_type": tr.ErrorType,
			"attempts":   tr.Attempts,
		})
		return tr
	}

	if e.registry == nil {
		return fail(&skills.NotFoundError{Name: task.SkillName})
	}
	skill, err := e.registry.Resolve(task.SkillName)
	if err != nil {
		return fail(err)
	}
	tr.Skill = skill.Name()
	params := skill.InputSchema().ApplyDefaults(task.Params)

	var firstErr error
	for {
		tr.Attempts++

		var failure error
		var field string
		var options []string

		if v := skill.ValidateParams(params); !v.Valid {
			st.ParamValidationFailures++
			field, options = repairHint(v.Field, v.ValidOptions, v.Error)
			failure = &ParamError{Skill: tr.Skill, Field: field, ValidOptions: options, Message: v.Error}
		} else {
			res, err := e.invoke(ctx, run, task, skill, params)
			if err != nil {
				return fail(err)
			}
			if res.Success {
				tr.Success = true
				tr.Output = formatOutput(res)
				tr.Data = res.Data
				tr.Duration = time.Since(start)
				return tr
			}
			tr.Output = formatOutput(res)
			tr.Data = res.Data
			// Skills without a structured schema report enum problems as text.
			if fe, ok := schema.ParseErrorText(res.Error); ok {
				st.ParamValidationFailures++
				field, options = fe.Field, fe.ValidOptions
				failure = &ParamError{Skill: tr.Skill, Field: field, ValidOptions: options, Message: res.Error}
			} else {
				failure = &SkillError{Skill: tr.Skill, Message: res.Error}
			}
		}

		if firstErr == nil {
			firstErr = failure
		}
		if field == "" || len(options) == 0 || len(tr.Corrections) >= e.cfg.MaxCorrections {
			return fail(firstErr)
		}
		from := fmt.Sprint(params[field])
		if from == options[0] {
			return fail(firstErr)
		}
		params = copyParams(params)
		params[field] = options[0]
		tr.Corrections = append(tr.Corrections, Correction{Field: field, From: from, To: options[0]})
		e.logger.Info("auto-corrected parameter", map[string]interface{}{
			"task":    task.ID,
			"skill":   tr.Skill,
			"field":   field,
			"attempt": len(tr.Corrections),
		})
	}
}

// repairHint prefers the structured options and falls back to parsing the
// error text.
func repairHint(field string, options []string, msg string) (string, []string) {
	if len(options) > 0 {
		return field, options
	}
	if fe, ok := schema.ParseErrorText(msg); ok {
		if fe.Field == "" {
			fe.Field = field
		}
		return fe.Field, fe.ValidOptions
	}
	return field, nil
}

// invoke runs an already validated call: gate, locks, then the skill.
func (e *Executor) invoke(ctx context.Context, run *runState, task Task, skill skills.Skill, params map[string]interface{}) (*skills.Result, error) {
	name := skill.Name()
	if e.gate != nil {
		auth, err := e.gate.Authorize(ctx, name, params, e.sessionID)
		if err != nil {
			// Refused calls still belong in the audit trail.
			corrID := e.logToolCall(ctx, run, task, name, params)
			e.logToolResult(ctx, run, task, name, params, corrID, nil, err, 0)
			return nil, err
		}
		params = auth.Params
		for _, w := range auth.Warnings {
			e.logger.Warn("policy warning", map[string]interface{}{"tool": name, "warning": w})
		}
	}

	ctx, span := e.startToolSpan(ctx, name, task.ID)
	start := time.Now()
	corrID := e.logToolCall(ctx, run, task, name, params)

	release, err := e.acquireResources(ctx, skill, params)
	if err != nil {
		e.logToolResult(ctx, run, task, name, params, corrID, nil, err, time.Since(start))
		e.endToolSpan(span, nil, err)
		return nil, fmt.Errorf("acquire resources: %w", err)
	}
	defer release()

	res, err := e.runSkill(ctx, skill, params, task)
	duration := time.Since(start)
	e.logToolResult(ctx, run, task, name, params, corrID, res, err, duration)
	e.endToolSpan(span, res, err)
	return res, err
}

// runSkill races the skill against the task timeout so a skill that
// ignores its context still returns.
func (e *Executor) runSkill(ctx context.Context, skill skills.Skill, params map[string]interface{}, task Task) (*skills.Result, error) {
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}
	rc := skills.RunContext{
		SessionID: e.sessionID,
		TaskID:    task.ID,
		ScopeKey:  e.scopeKey,
		Sandbox:   e.sandbox,
	}

	type outcome struct {
		res *skills.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{nil, fmt.Errorf("skill %s panicked: %v", skill.Name(), r)}
			}
		}()
		res, err := skill.Run(ctx, params, rc)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err == nil && o.res == nil {
			o.res = &skills.Result{Success: false, Error: "skill returned no result"}
		}
		return o.res, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.res, o.err
		default:
		}
		return nil, fmt.Errorf("skill %s: %w", skill.Name(), ctx.Err())
	}
}

// acquireResources takes every lock the skill claims, in resource order,
// and returns a function releasing them.
func (e *Executor) acquireResources(ctx context.Context, skill skills.Skill, params map[string]interface{}) (func(), error) {
	claimer, ok := skill.(skills.ResourceClaimer)
	if !ok || e.locks == nil {
		return func() {}, nil
	}

	// One claim per resource; write wins over read.
	want := make(map[string]locks.LockType)
	for _, c := range claimer.Resources(params) {
		if cur, seen := want[c.Resource]; !seen || cur == locks.Read {
			want[c.Resource] = c.Type
		}
	}
	resources := make([]string, 0, len(want))
	for r := range want {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	holder := e.scopeKey
	var held []string
	release := func() {
		for _, r := range held {
			e.locks.Release(r, holder)
		}
	}
	for _, r := range resources {
		if _, err := e.locks.Acquire(ctx, r, want[r], holder); err != nil {
			release()
			return nil, err
		}
		held = append(held, r)
	}
	return release, nil
}

func copyParams(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// formatOutput renders a skill result as text for the decision context.
func formatOutput(res *skills.Result) string {
	if res == nil {
		return ""
	}
	var data string
	switch v := res.Data.(type) {
	case nil:
	case string:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			data = fmt.Sprint(v)
		} else {
			data = string(b)
		}
	}
	switch {
	case res.Message != "" && data != "":
		return res.Message + "\n" + data
	case res.Message != "":
		return res.Message
	}
	return strings.TrimRight(data, "\n")
}
