package policy

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk policy document, in TOML or YAML.
type File struct {
	Allow        []string `toml:"allow" yaml:"allow"`
	Deny         []string `toml:"deny" yaml:"deny"`
	StrictSchema bool     `toml:"strict_schema" yaml:"strict_schema"`
	// DefaultSensitive keeps the built-in sensitive rules after any
	// configured ones. Nil means true.
	DefaultSensitive *bool           `toml:"default_sensitive" yaml:"default_sensitive"`
	Sensitive        []SensitiveSpec `toml:"sensitive" yaml:"sensitive"`
	Rules            []RuleSpec      `toml:"rules" yaml:"rules"`
}

// SensitiveSpec is the serialised form of a SensitiveRule.
type SensitiveSpec struct {
	Target  string `toml:"target" yaml:"target"`
	Pattern string `toml:"pattern" yaml:"pattern"`
	Risk    string `toml:"risk" yaml:"risk"`
	Reason  string `toml:"reason" yaml:"reason"`
}

// RuleSpec is the serialised form of a custom Rule. Param and Pattern are
// optional; without them the rule matches on Tool alone.
type RuleSpec struct {
	Name    string `toml:"name" yaml:"name"`
	Tool    string `toml:"tool" yaml:"tool"`
	Param   string `toml:"param" yaml:"param"`
	Pattern string `toml:"pattern" yaml:"pattern"`
	Action  string `toml:"action" yaml:"action"`
	Reason  string `toml:"reason" yaml:"reason"`
	Risk    string `toml:"risk" yaml:"risk"`
}

// LoadFile reads a policy file; the format follows the extension.
func LoadFile(file string) (*File, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var f File
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse policy %s: %w", file, err)
		}
	default:
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("parse policy %s: %w", file, err)
		}
	}
	return &f, nil
}

// Build compiles the file into a pipeline.
func (f *File) Build(src SchemaSource) (*Pipeline, error) {
	for _, p := range append(append([]string(nil), f.Allow...), f.Deny...) {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
	}

	var sensitive []SensitiveRule
	for i, s := range f.Sensitive {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sensitive[%d]: %w", i, err)
		}
		risk, err := ParseRisk(s.Risk)
		if err != nil {
			return nil, fmt.Errorf("sensitive[%d]: %w", i, err)
		}
		t := Target(strings.ToLower(s.Target))
		if _, ok := targetParams[t]; !ok {
			return nil, fmt.Errorf("sensitive[%d]: unknown target %q", i, s.Target)
		}
		sensitive = append(sensitive, SensitiveRule{Target: t, Pattern: re, Risk: risk, Reason: s.Reason})
	}
	if f.DefaultSensitive == nil || *f.DefaultSensitive {
		sensitive = append(sensitive, DefaultSensitiveRules()...)
	}

	var rules []Rule
	for i, r := range f.Rules {
		risk, err := ParseRisk(r.Risk)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rule := Rule{Name: r.Name, Tool: r.Tool, Reason: r.Reason, Risk: risk}
		switch Action(r.Action) {
		case ActionAllow, ActionBlock, ActionRequireApproval:
			rule.Action = Action(r.Action)
		default:
			return nil, fmt.Errorf("rules[%d]: unknown action %q", i, r.Action)
		}
		if r.Param != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rules[%d]: %w", i, err)
			}
			rule.Match = ParamRule(r.Param, re)
		}
		rules = append(rules, rule)
	}

	return NewPipeline(
		&AllowList{Patterns: f.Allow},
		&DenyList{Patterns: f.Deny},
		&SchemaCheck{Source: src, Strict: f.StrictSchema},
		&Sensitive{Rules: sensitive},
		&CustomRules{Rules: rules},
	), nil
}

// Default returns the pipeline used when no policy file is configured.
func Default(src SchemaSource) *Pipeline {
	return NewPipeline(DefaultStages(nil, nil, src, DefaultSensitiveRules(), nil)...)
}
