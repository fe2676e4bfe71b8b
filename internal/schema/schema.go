// Package schema validates tool parameters against a JSON-schema subset:
// required fields, types, enums, numeric ranges, string length and formats.
package schema

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// Schema describes an object of named parameters.
type Schema struct {
	Type       string               `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Properties map[string]*Property `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
	Required   []string             `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
}

// Property describes one parameter.
type Property struct {
	Type        string      `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Enum        []string    `json:"enum,omitempty" yaml:"enum,omitempty" toml:"enum,omitempty"`
	Minimum     *float64    `json:"minimum,omitempty" yaml:"minimum,omitempty" toml:"minimum,omitempty"`
	Maximum     *float64    `json:"maximum,omitempty" yaml:"maximum,omitempty" toml:"maximum,omitempty"`
	MinLength   *int        `json:"minLength,omitempty" yaml:"min_length,omitempty" toml:"min_length,omitempty"`
	MaxLength   *int        `json:"maxLength,omitempty" yaml:"max_length,omitempty" toml:"max_length,omitempty"`
	Format      string      `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	Items       *Property   `json:"items,omitempty" yaml:"items,omitempty" toml:"items,omitempty"`
}

// FieldError is one invalid parameter.
type FieldError struct {
	Field        string   `json:"field"`
	Message      string   `json:"message"`
	ValidOptions []string `json:"valid_options,omitempty"`
}

// ValidationError carries every field error found in one pass.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		if len(fe.ValidOptions) > 0 {
			parts[i] = fmt.Sprintf("field %s: %s (valid values: %s)", fe.Field, fe.Message, strings.Join(fe.ValidOptions, ", "))
		} else {
			parts[i] = fmt.Sprintf("field %s: %s", fe.Field, fe.Message)
		}
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

// Repairable returns the first field error that lists valid options.
func (e *ValidationError) Repairable() (FieldError, bool) {
	for _, fe := range e.Errors {
		if len(fe.ValidOptions) > 0 {
			return fe, true
		}
	}
	return FieldError{}, false
}

// Validate checks params and returns nil or a *ValidationError.
func (s *Schema) Validate(params map[string]interface{}) error {
	if s == nil {
		return nil
	}
	var errs []FieldError

	for _, name := range s.Required {
		v, ok := params[name]
		if !ok || v == nil {
			errs = append(errs, FieldError{Field: name, Message: "is required"})
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := s.Properties[name]
		if !ok || prop == nil || params[name] == nil {
			continue
		}
		if fe := prop.check(name, params[name]); fe != nil {
			errs = append(errs, *fe)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// ApplyDefaults returns a copy of params with declared defaults filled in.
func (s *Schema) ApplyDefaults(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	if s == nil {
		return out
	}
	for name, prop := range s.Properties {
		if _, ok := out[name]; !ok && prop != nil && prop.Default != nil {
			out[name] = prop.Default
		}
	}
	return out
}

// Summary renders the schema as a compact single-line description for prompts.
func (s *Schema) Summary() string {
	if s == nil || len(s.Properties) == 0 {
		return "{}"
	}
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		p := s.Properties[name]
		desc := name + ":" + p.Type
		if len(p.Enum) > 0 {
			desc += "(" + strings.Join(p.Enum, "|") + ")"
		}
		if required[name] {
			desc += "*"
		}
		parts = append(parts, desc)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (p *Property) check(name string, v interface{}) *FieldError {
	if len(p.Enum) > 0 {
		s := fmt.Sprint(v)
		for _, allowed := range p.Enum {
			if s == allowed {
				return nil
			}
		}
		return &FieldError{
			Field:        name,
			Message:      fmt.Sprintf("invalid value %q", s),
			ValidOptions: append([]string(nil), p.Enum...),
		}
	}

	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected string, got %T", v)}
		}
		n := len([]rune(s))
		if p.MinLength != nil && n < *p.MinLength {
			return &FieldError{Field: name, Message: fmt.Sprintf("length %d below minimum %d", n, *p.MinLength)}
		}
		if p.MaxLength != nil && n > *p.MaxLength {
			return &FieldError{Field: name, Message: fmt.Sprintf("length %d above maximum %d", n, *p.MaxLength)}
		}
		if p.Format != "" {
			if err := checkFormat(p.Format, s); err != nil {
				return &FieldError{Field: name, Message: err.Error()}
			}
		}
	case "number", "integer":
		f, ok := toFloat(v)
		if !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected %s, got %T", p.Type, v)}
		}
		if p.Type == "integer" && f != math.Trunc(f) {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected integer, got %v", f)}
		}
		if p.Minimum != nil && f < *p.Minimum {
			return &FieldError{Field: name, Message: fmt.Sprintf("%v below minimum %v", f, *p.Minimum)}
		}
		if p.Maximum != nil && f > *p.Maximum {
			return &FieldError{Field: name, Message: fmt.Sprintf("%v above maximum %v", f, *p.Maximum)}
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected boolean, got %T", v)}
		}
	case "array":
		items, ok := toSlice(v)
		if !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected array, got %T", v)}
		}
		if p.Items != nil {
			for i, item := range items {
				if fe := p.Items.check(fmt.Sprintf("%s[%d]", name, i), item); fe != nil {
					return fe
				}
			}
		}
	case "object":
		if _, ok := v.(map[string]interface{}); !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected object, got %T", v)}
		}
	}
	return nil
}

func checkFormat(format, s string) error {
	switch format {
	case "uri", "url":
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid uri: %v", err)
		}
		if u.Scheme == "" {
			return fmt.Errorf("invalid uri: missing scheme")
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			if u.Hostname() == "" {
				return fmt.Errorf("invalid uri: missing host")
			}
			if _, err := idna.Lookup.ToASCII(u.Hostname()); err != nil {
				return fmt.Errorf("invalid uri host: %v", err)
			}
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}
