package policy

import (
	"context"
	"fmt"
	"path"
	"regexp"

	"github.com/vinayprograms/agentcore/internal/schema"
)

// matchGlob matches a tool name against a shell-style pattern. Malformed
// patterns never match.
func matchGlob(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// AllowList passes only tools matching one of its patterns. An empty list
// passes everything.
type AllowList struct {
	Patterns []string
}

func (a *AllowList) Name() string { return "allow_list" }

func (a *AllowList) Evaluate(_ context.Context, pc *Context) StageResult {
	if len(a.Patterns) == 0 {
		return Allow()
	}
	for _, p := range a.Patterns {
		if matchGlob(p, pc.ToolName) {
			return Allow()
		}
	}
	return Block(fmt.Sprintf("tool %q is not in the allow list", pc.ToolName))
}

// DenyList blocks tools matching any of its patterns.
type DenyList struct {
	Patterns []string
}

func (d *DenyList) Name() string { return "deny_list" }

func (d *DenyList) Evaluate(_ context.Context, pc *Context) StageResult {
	for _, p := range d.Patterns {
		if matchGlob(p, pc.ToolName) {
			return Block(fmt.Sprintf("tool %q is denied by pattern %q", pc.ToolName, p))
		}
	}
	return Allow()
}

// SchemaSource supplies the declared input schema of a tool.
type SchemaSource interface {
	SchemaFor(tool string) *schema.Schema
}

// SchemaCheck reports invalid parameters. It blocks only when Strict is set;
// otherwise the problem is a warning and the executor's own validation and
// repair path handles it.
type SchemaCheck struct {
	Source SchemaSource
	Strict bool
}

func (s *SchemaCheck) Name() string { return "schema" }

func (s *SchemaCheck) Evaluate(_ context.Context, pc *Context) StageResult {
	if s.Source == nil {
		return Allow()
	}
	sch := s.Source.SchemaFor(pc.ToolName)
	if sch == nil {
		return Allow()
	}
	err := sch.Validate(pc.Params)
	if err == nil {
		return Allow()
	}
	if s.Strict {
		return Block(err.Error())
	}
	r := Allow()
	r.Warnings = []string{err.Error()}
	return r
}

// Action is what a custom rule does when its predicate matches.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionBlock           Action = "block"
	ActionRequireApproval Action = "require_approval"
)

// Rule is a custom predicate evaluated after the built-in stages.
type Rule struct {
	Name   string
	Tool   string
	Match  func(pc *Context) bool
	Action Action
	Reason string
	Risk   Risk
}

// ParamRule builds a Match that tests one parameter against a regex.
func ParamRule(param string, re *regexp.Regexp) func(pc *Context) bool {
	return func(pc *Context) bool {
		v, ok := pc.Params[param]
		if !ok {
			return false
		}
		return re.MatchString(fmt.Sprint(v))
	}
}

// CustomRules evaluates rules in order; the first matching rule decides.
type CustomRules struct {
	Rules []Rule
}

func (c *CustomRules) Name() string { return "custom" }

func (c *CustomRules) Evaluate(_ context.Context, pc *Context) StageResult {
	for _, r := range c.Rules {
		if r.Tool != "" && !matchGlob(r.Tool, pc.ToolName) {
			continue
		}
		if r.Match != nil && !r.Match(pc) {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = "rule " + r.Name
		}
		switch r.Action {
		case ActionBlock:
			res := Block(reason)
			res.Risk = r.Risk
			return res
		case ActionRequireApproval:
			return StageResult{Allowed: true, RequiresApproval: true, Reason: reason, Risk: r.Risk}
		default:
			return Allow()
		}
	}
	return Allow()
}

// DefaultStages returns the standard stage order.
func DefaultStages(allow, deny []string, src SchemaSource, sensitive []SensitiveRule, rules []Rule) []Stage {
	return []Stage{
		&AllowList{Patterns: allow},
		&DenyList{Patterns: deny},
		&SchemaCheck{Source: src},
		&Sensitive{Rules: sensitive},
		&CustomRules{Rules: rules},
	}
}
