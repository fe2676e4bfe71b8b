// Package skills defines the capabilities the executor can invoke, a registry
// to look them up, and loaders for command skills described by SKILL.md.
package skills

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/sandbox"
	"github.com/vinayprograms/agentcore/internal/schema"
)

// ErrNotFound matches every *NotFoundError.
var ErrNotFound = errors.New("skill not found")

// NotFoundError names the skill that could not be resolved.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("skill not found: %s", e.Name) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationResult is returned by ValidateParams. Field and ValidOptions are
// set when the failure is an enum violation that can be repaired.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	Error        string   `json:"error,omitempty"`
	Field        string   `json:"field,omitempty"`
	ValidOptions []string `json:"valid_options,omitempty"`
}

// Result is what a skill reports back.
type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RunContext carries per-call environment into a skill.
type RunContext struct {
	SessionID string
	TaskID    string
	ScopeKey  string
	Sandbox   *sandbox.Context
}

// Skill is one invocable capability.
type Skill interface {
	Name() string
	Description() string
	InputSchema() *schema.Schema
	ValidateParams(params map[string]interface{}) ValidationResult
	// Run returns an error only when the skill could not be run at all.
	// A skill that ran and failed reports it in Result.
	Run(ctx context.Context, params map[string]interface{}, rc RunContext) (*Result, error)
}

// Capable is implemented by skills that answer to capability names besides
// their own.
type Capable interface {
	Capabilities() []string
}

// ResourceClaim is a lock the executor must hold while the skill runs.
type ResourceClaim struct {
	Resource string         `yaml:"resource" json:"resource"`
	Type     locks.LockType `yaml:"type" json:"type"`
}

// ResourceClaimer is implemented by skills that touch shared resources.
type ResourceClaimer interface {
	Resources(params map[string]interface{}) []ResourceClaim
}

// ValidateWithSchema runs s against params and converts the outcome.
func ValidateWithSchema(s *schema.Schema, params map[string]interface{}) ValidationResult {
	err := s.Validate(params)
	if err == nil {
		return ValidationResult{Valid: true}
	}
	res := ValidationResult{Error: err.Error()}
	var ve *schema.ValidationError
	if errors.As(err, &ve) {
		if fe, ok := ve.Repairable(); ok {
			res.Field = fe.Field
			res.ValidOptions = fe.ValidOptions
		} else if len(ve.Errors) > 0 {
			res.Field = ve.Errors[0].Field
		}
	}
	return res
}

// Registry holds skills by name.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds s. Names must be unique.
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[s.Name()]; ok {
		return fmt.Errorf("skill %q already registered", s.Name())
	}
	r.skills[s.Name()] = s
	r.order = append(r.order, s.Name())
	return nil
}

// Get returns the skill registered under name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Resolve finds a skill by exact name, then by the first registered skill
// declaring name as a capability.
func (r *Registry) Resolve(name string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.skills[name]; ok {
		return s, nil
	}
	want := strings.ToLower(name)
	for _, n := range r.order {
		c, ok := r.skills[n].(Capable)
		if !ok {
			continue
		}
		for _, capName := range c.Capabilities() {
			if strings.ToLower(capName) == want {
				return r.skills[n], nil
			}
		}
	}
	return nil, &NotFoundError{Name: name}
}

// List returns all skills sorted by name.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	out := make([]Skill, len(names))
	for i, n := range names {
		out[i] = r.skills[n]
	}
	return out
}

// SchemaFor lets the registry feed the policy schema stage.
func (r *Registry) SchemaFor(tool string) *schema.Schema {
	s, err := r.Resolve(tool)
	if err != nil {
		return nil
	}
	return s.InputSchema()
}

// Describe renders one line per skill for a decision prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, s := range r.List() {
		fmt.Fprintf(&b, "- %s: %s %s\n", s.Name(), s.Description(), s.InputSchema().Summary())
	}
	return b.String()
}
