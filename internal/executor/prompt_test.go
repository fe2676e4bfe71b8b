package executor

import (
	"fmt"
	"strings"
	"testing"
)

func TestDecisionContextBuilder_FirstIteration(t *testing.T) {
	b := NewDecisionContextBuilder("run-1", 1, 32)
	b.SetIntent("Clean up the build directory.")
	b.AddPending([]Task{{ID: "t1", SkillName: "exec", Description: "remove build/", Params: map[string]interface{}{"command": "rm"}}})

	result := b.Build()

	if !strings.Contains(result, `<run id="run-1" iteration="1" max-iterations="32">`) {
		t.Error("expected run tag with iteration and budget")
	}
	if !strings.Contains(result, "<intent>\nClean up the build directory.\n</intent>") {
		t.Error("expected intent block")
	}
	if !strings.Contains(result, `<task id="t1" skill="exec">remove build/ command=rm</task>`) {
		t.Errorf("expected pending task, got:\n%s", result)
	}
	// Nothing has run yet
	for _, tag := range []string{"<executed>", "<tool-calls>", "<error-guidance", "<summary"} {
		if strings.Contains(result, tag) {
			t.Errorf("unexpected %s on first iteration", tag)
		}
	}
	if !strings.HasSuffix(result, "</run>") {
		t.Error("expected closing run tag")
	}
}

func TestDecisionContextBuilder_KeepsRecentWindow(t *testing.T) {
	var results []TaskResult
	var calls []ToolCall
	for i := 1; i <= 10; i++ {
		results = append(results, TaskResult{TaskID: fmt.Sprintf("t%d", i), Skill: "exec", Success: true, Output: fmt.Sprintf("out-%d", i)})
		calls = append(calls, ToolCall{TaskID: fmt.Sprintf("t%d", i), Tool: "exec", Success: true})
	}
	b := NewDecisionContextBuilder("run-1", 11, 32)
	b.AddExecuted(results, 6)
	b.AddToolCalls(calls, 5)

	result := b.Build()

	if strings.Contains(result, `<task id="t4"`) || !strings.Contains(result, `<task id="t5"`) {
		t.Error("expected only the last 6 executed tasks")
	}
	if strings.Count(result, "<call ") != 5 {
		t.Errorf("expected 5 tool calls, got %d", strings.Count(result, "<call "))
	}
	// Insertion order is preserved
	if strings.Index(result, "out-5") > strings.Index(result, "out-10") {
		t.Error("expected oldest first")
	}
}

func TestDecisionContextBuilder_ErrorGuidance(t *testing.T) {
	b := NewDecisionContextBuilder("run-1", 2, 32)
	b.AddExecuted([]TaskResult{{TaskID: "t1", Skill: "process", Error: "invalid parameters: field action: invalid value \"foo\""}}, 6)
	b.SetError(&ToolError{
		TaskID:       "t1",
		Tool:         "process",
		Error:        `invalid parameters: field action: invalid value "foo"`,
		Field:        "action",
		ValidOptions: []string{"list", "spawn"},
	})

	result := b.Build()

	if !strings.Contains(result, `<task id="t1" skill="process" status="error">`) {
		t.Error("expected failed task in executed block")
	}
	if !strings.Contains(result, `<error-guidance tool="process" task="t1">`) {
		t.Error("expected error guidance block")
	}
	if !strings.Contains(result, "<field name=\"action\">\nvalid values: list, spawn\n</field>") {
		t.Errorf("expected field with valid values, got:\n%s", result)
	}
}

func TestDecisionContextBuilder_CompactedOutput(t *testing.T) {
	b := NewDecisionContextBuilder("run-1", 9, 32)
	b.SetSummary("Built the project; tests pass.")
	b.AddExecuted([]TaskResult{{TaskID: "t1", Skill: "exec", Success: true, Compacted: true}}, 6)

	result := b.Build()

	if !strings.Contains(result, `<summary source="compaction">`) {
		t.Error("expected summary block")
	}
	if !strings.Contains(result, "(output compacted)") {
		t.Error("expected compacted marker")
	}
}

func TestFormatParams(t *testing.T) {
	got := formatParams(map[string]interface{}{"b": 2, "a": "x"})
	if got != "a=x b=2" {
		t.Errorf("formatParams = %q", got)
	}
}
