package schema

import (
	"errors"
	"strings"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func testSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Property{
			"action":  {Type: "string", Enum: []string{"spawn", "poll", "kill"}},
			"command": {Type: "string", MinLength: ptr(1)},
			"timeout": {Type: "integer", Minimum: ptr(1.0), Maximum: ptr(3600.0)},
			"url":     {Type: "string", Format: "uri"},
			"verbose": {Type: "boolean", Default: false},
			"args":    {Type: "array", Items: &Property{Type: "string"}},
		},
		Required: []string{"action"},
	}
}

func TestValidate_OK(t *testing.T) {
	s := testSchema()
	err := s.Validate(map[string]interface{}{
		"action":  "spawn",
		"command": "ls",
		"timeout": 30.0,
		"url":     "https://example.com/x",
		"args":    []interface{}{"-l"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_EnumReportsOptions(t *testing.T) {
	err := testSchema().Validate(map[string]interface{}{"action": "start"})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	fe, ok := ve.Repairable()
	if !ok {
		t.Fatal("expected a repairable field error")
	}
	if fe.Field != "action" {
		t.Errorf("field = %q", fe.Field)
	}
	if len(fe.ValidOptions) != 3 || fe.ValidOptions[0] != "spawn" {
		t.Errorf("options = %v", fe.ValidOptions)
	}
	if !strings.Contains(err.Error(), "valid values: spawn, poll, kill") {
		t.Errorf("message should list options: %s", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		field  string
	}{
		{"missing required", map[string]interface{}{}, "action"},
		{"wrong type", map[string]interface{}{"action": "poll", "command": 5}, "command"},
		{"too short", map[string]interface{}{"action": "poll", "command": ""}, "command"},
		{"not integer", map[string]interface{}{"action": "poll", "timeout": 1.5}, "timeout"},
		{"below minimum", map[string]interface{}{"action": "poll", "timeout": 0}, "timeout"},
		{"above maximum", map[string]interface{}{"action": "poll", "timeout": 7200}, "timeout"},
		{"bad uri", map[string]interface{}{"action": "poll", "url": "not a url"}, "url"},
		{"bad bool", map[string]interface{}{"action": "poll", "verbose": "yes"}, "verbose"},
		{"bad item", map[string]interface{}{"action": "poll", "args": []interface{}{1}}, "args[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testSchema().Validate(tt.params)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Errors[0].Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Errors[0].Field, tt.field)
			}
		})
	}
}

func TestNilSchemaAcceptsAnything(t *testing.T) {
	var s *Schema
	if err := s.Validate(map[string]interface{}{"x": 1}); err != nil {
		t.Errorf("nil schema should accept, got %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	in := map[string]interface{}{"action": "kill"}
	out := testSchema().ApplyDefaults(in)
	if out["verbose"] != false {
		t.Errorf("default not applied: %v", out)
	}
	if _, ok := in["verbose"]; ok {
		t.Error("input map was modified")
	}
}

func TestSummary(t *testing.T) {
	got := testSchema().Summary()
	if !strings.Contains(got, "action:string(spawn|poll|kill)*") {
		t.Errorf("summary = %s", got)
	}
}

func TestParseErrorText(t *testing.T) {
	tests := []struct {
		msg     string
		field   string
		options []string
	}{
		{"field mode: invalid value \"x\" (valid values: read, write)", "mode", []string{"read", "write"}},
		{"color must be one of: red, green, blue", "color", []string{"red", "green", "blue"}},
		{"parameter 'format' expected one of [json|yaml]", "format", []string{"json", "yaml"}},
	}
	for _, tt := range tests {
		fe, ok := ParseErrorText(tt.msg)
		if !ok {
			t.Errorf("ParseErrorText(%q) found nothing", tt.msg)
			continue
		}
		if fe.Field != tt.field {
			t.Errorf("ParseErrorText(%q) field = %q, want %q", tt.msg, fe.Field, tt.field)
		}
		if strings.Join(fe.ValidOptions, ",") != strings.Join(tt.options, ",") {
			t.Errorf("ParseErrorText(%q) options = %v, want %v", tt.msg, fe.ValidOptions, tt.options)
		}
	}

	if _, ok := ParseErrorText("connection refused"); ok {
		t.Error("expected no match for unrelated error")
	}
}
