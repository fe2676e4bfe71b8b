package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/agentcore/internal/process"
	"github.com/vinayprograms/agentcore/internal/sandbox"
	"github.com/vinayprograms/agentcore/internal/schema"
)

func ptr[T any](v T) *T { return &v }

// ExecSkill runs one argv command in the call's sandbox.
type ExecSkill struct {
	execer Execer
	schema *schema.Schema
}

// NewExecSkill returns the built-in "exec" skill.
func NewExecSkill(execer Execer) *ExecSkill {
	return &ExecSkill{
		execer: execer,
		schema: &schema.Schema{
			Type: "object",
			Properties: map[string]*schema.Property{
				"command": {Type: "string", MinLength: ptr(1), Description: "program to run"},
				"args":    {Type: "array", Items: &schema.Property{Type: "string"}, Description: "arguments, passed without a shell"},
				"timeout": {Type: "integer", Minimum: ptr(1.0), Maximum: ptr(3600.0), Description: "seconds"},
				"env":     {Type: "object", Description: "extra environment variables"},
			},
			Required: []string{"command"},
		},
	}
}

func (s *ExecSkill) Name() string                { return "exec" }
func (s *ExecSkill) Description() string         { return "Run a command in the sandbox and return its output" }
func (s *ExecSkill) InputSchema() *schema.Schema { return s.schema }
func (s *ExecSkill) Capabilities() []string      { return []string{"shell", "command", "run"} }

func (s *ExecSkill) ValidateParams(params map[string]interface{}) ValidationResult {
	return ValidateWithSchema(s.schema, params)
}

func (s *ExecSkill) Run(ctx context.Context, params map[string]interface{}, rc RunContext) (*Result, error) {
	if rc.Sandbox == nil {
		return nil, fmt.Errorf("exec: no sandbox")
	}
	argv := append([]string{params["command"].(string)}, stringList(params["args"])...)

	var opts sandbox.ExecOptions
	if t, ok := toInt(params["timeout"]); ok {
		opts.Timeout = time.Duration(t) * time.Second
	}
	if env, ok := params["env"].(map[string]interface{}); ok {
		opts.Env = make(map[string]string, len(env))
		for k, v := range env {
			opts.Env[k] = fmt.Sprint(v)
		}
	}

	res, err := s.execer.Exec(ctx, rc.Sandbox, argv, opts)
	if err != nil {
		return nil, err
	}
	out := &Result{
		Success: res.ExitCode == 0,
		Data: map[string]interface{}{
			"exit_code":   res.ExitCode,
			"stdout":      res.Stdout,
			"stderr":      res.Stderr,
			"duration_ms": res.Duration.Milliseconds(),
		},
	}
	if !out.Success {
		out.Error = fmt.Sprintf("exit code %d: %s", res.ExitCode, firstLine(res.Stderr))
	}
	return out, nil
}

// ProcessSkill exposes the process supervisor to the executor.
type ProcessSkill struct {
	sup    *process.Supervisor
	schema *schema.Schema
}

// ProcessActions are the accepted values of the "action" parameter.
var ProcessActions = []string{"list", "spawn", "poll", "write", "send_keys", "paste", "kill"}

// NewProcessSkill returns the built-in "process" skill.
func NewProcessSkill(sup *process.Supervisor) *ProcessSkill {
	return &ProcessSkill{
		sup: sup,
		schema: &schema.Schema{
			Type: "object",
			Properties: map[string]*schema.Property{
				"action":     {Type: "string", Enum: ProcessActions},
				"command":    {Type: "string", Description: "spawn: program"},
				"args":       {Type: "array", Items: &schema.Property{Type: "string"}},
				"id":         {Type: "string", Description: "process id for poll/write/send_keys/paste/kill"},
				"data":       {Type: "string", Description: "write: raw input"},
				"keys":       {Type: "array", Items: &schema.Property{Type: "string"}, Description: "send_keys: names like Enter, Ctrl+C, Up"},
				"text":       {Type: "string", Description: "paste: text"},
				"signal":     {Type: "string", Description: "kill: signal name"},
				"timeout_ms": {Type: "integer", Minimum: ptr(0.0), Description: "poll: wait for output; spawn: run limit"},
				"active":     {Type: "boolean", Description: "list: only running processes"},
			},
			Required: []string{"action"},
		},
	}
}

func (s *ProcessSkill) Name() string                { return "process" }
func (s *ProcessSkill) Description() string         { return "Manage background and interactive processes" }
func (s *ProcessSkill) InputSchema() *schema.Schema { return s.schema }
func (s *ProcessSkill) Capabilities() []string      { return []string{"background", "interactive"} }

func (s *ProcessSkill) ValidateParams(params map[string]interface{}) ValidationResult {
	res := ValidateWithSchema(s.schema, params)
	if !res.Valid {
		return res
	}
	action := params["action"].(string)
	need := map[string]string{
		"spawn": "command", "poll": "id", "write": "id", "send_keys": "id", "paste": "id", "kill": "id",
	}
	if field, ok := need[action]; ok {
		if v, _ := params[field].(string); v == "" {
			return ValidationResult{Error: fmt.Sprintf("field %s is required for action %s", field, action), Field: field}
		}
	}
	return res
}

func (s *ProcessSkill) Run(ctx context.Context, params map[string]interface{}, rc RunContext) (*Result, error) {
	id, _ := params["id"].(string)
	timeout := time.Duration(0)
	if ms, ok := toInt(params["timeout_ms"]); ok {
		timeout = time.Duration(ms) * time.Millisecond
	}

	var data interface{}
	var err error
	switch action, _ := params["action"].(string); action {
	case "list":
		active, _ := params["active"].(bool)
		data = s.sup.List(process.Filter{SessionID: rc.SessionID, ActiveOnly: active})
	case "spawn":
		opts := process.Options{Timeout: timeout, ScopeKey: rc.ScopeKey, SessionID: rc.SessionID}
		if rc.Sandbox != nil {
			opts.Cwd = rc.Sandbox.HostWorkdir
		}
		var pid string
		pid, err = s.sup.Spawn(params["command"].(string), stringList(params["args"]), opts)
		if err == nil {
			data, err = s.sup.Get(pid)
		}
	case "poll":
		data, err = s.sup.Poll(id, timeout)
	case "write":
		input, _ := params["data"].(string)
		data = map[string]string{"id": id}
		err = s.sup.Write(id, []byte(input))
	case "send_keys":
		data = map[string]string{"id": id}
		err = s.sup.SendKeys(id, stringList(params["keys"]))
	case "paste":
		text, _ := params["text"].(string)
		data = map[string]string{"id": id}
		err = s.sup.Paste(id, text)
	case "kill":
		sigName, _ := params["signal"].(string)
		sig, perr := process.ParseSignal(sigName)
		if perr != nil {
			return &Result{Success: false, Error: perr.Error()}, nil
		}
		if err = s.sup.Kill(id, sig); err == nil {
			data, err = s.sup.Get(id)
		}
	default:
		return &Result{Success: false, Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Data: data}, nil
}

func stringList(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
