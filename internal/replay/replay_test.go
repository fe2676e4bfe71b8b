package replay

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/agentcore/internal/events"
)

func sampleEvents() []events.Event {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok, failed := true, false
	return []events.Event{
		{Seq: 1, Type: events.TypeToolCall, Timestamp: base, CorrelationID: "c1", SessionID: "s1", TaskID: "t1", Tool: "exec",
			Params: map[string]interface{}{"command": "ls -la"}},
		{Seq: 2, Type: events.TypeToolResult, Timestamp: base.Add(time.Second), CorrelationID: "c1", SessionID: "s1", TaskID: "t1", Tool: "exec",
			Result: "a.txt\nb.txt", Success: &ok, DurationMs: 1000},
		{Seq: 3, Type: events.TypeToolCall, Timestamp: base.Add(2 * time.Second), CorrelationID: "c2", SessionID: "s2", Tool: "process",
			Params: map[string]interface{}{"action": "list"}},
		{Seq: 4, Type: events.TypeToolCall, Timestamp: base.Add(3 * time.Second), CorrelationID: "c3", SessionID: "s1", TaskID: "t2", Tool: "exec",
			Params: map[string]interface{}{"command": "rm -rf /"}},
		{Seq: 5, Type: events.TypeToolResult, Timestamp: base.Add(4 * time.Second), CorrelationID: "c3", SessionID: "s1", TaskID: "t2", Tool: "exec",
			Error: "blocked by policy", Success: &failed, DurationMs: 3},
	}
}

func TestGroupSessions(t *testing.T) {
	sessions := GroupSessions(sampleEvents())
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	if sessions[0].ID != "s1" || len(sessions[0].Events) != 4 {
		t.Errorf("first session = %s with %d events", sessions[0].ID, len(sessions[0].Events))
	}
	if sessions[1].ID != "s2" || len(sessions[1].Events) != 1 {
		t.Errorf("second session = %s with %d events", sessions[1].ID, len(sessions[1].Events))
	}
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(sampleEvents())
	if stats.Calls != 3 || stats.Results != 2 || stats.Failures != 1 || stats.Pending != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Tasks != 2 || stats.TotalMs != 1003 {
		t.Errorf("tasks = %d, total = %d", stats.Tasks, stats.TotalMs)
	}
	exec := stats.PerTool["exec"]
	if exec.Calls != 2 || exec.Failures != 1 || exec.AvgMs != 501 || exec.SlowestMs != 1000 {
		t.Errorf("exec stats = %+v", exec)
	}
	if tools := stats.Tools(); tools[0].Tool != "exec" {
		t.Errorf("slowest tool = %s", tools[0].Tool)
	}
}

func TestReplayEvents_Timeline(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 1)
	if err := r.ReplayEvents(sampleEvents(), "s1"); err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"SESSION", "s1", "TIMELINE", "(4 events)",
		"▸ task", "t1", "t2",
		"→ exec", "ls -la", "✓ exec", "(1000ms)", "b.txt",
		"✗ exec", "blocked by policy",
		"COMPLETED WITH 1 FAILED CALLS", "STATISTICS",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "process") {
		t.Error("other sessions should be filtered out")
	}
}

func TestReplayEvents_Incomplete(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, 0).ReplayEvents(sampleEvents(), "s2")
	if !strings.Contains(buf.String(), "INCOMPLETE (1 calls without a result)") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestReplayEvents_Errors(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 0)
	if err := r.ReplayEvents(sampleEvents(), "missing"); err == nil {
		t.Error("expected error for unknown session")
	}
	buf.Reset()
	if err := r.ReplayEvents(nil, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no events recorded") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestReplayFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := events.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range sampleEvents() {
		sink.Record(context.Background(), ev)
	}
	sink.Close()

	var buf bytes.Buffer
	if err := New(&buf, 0).ReplayFile(path, ""); err != nil {
		t.Fatalf("ReplayFile: %v", err)
	}
	if strings.Count(buf.String(), "SESSION") != 2 {
		t.Errorf("expected two sessions:\n%s", buf.String())
	}
	if err := New(&buf, 0).ReplayFile(filepath.Join(t.TempDir(), "none.jsonl"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestTruncateContent(t *testing.T) {
	if got := truncateContent("hello", 0); got != "hello" {
		t.Errorf("unlimited = %q", got)
	}
	got := truncateContent(strings.Repeat("x", 20), 5)
	if !strings.HasPrefix(got, "xxxxx\n") || !strings.Contains(got, "15 more bytes") {
		t.Errorf("truncated = %q", got)
	}
	if got := truncateHint("line one\nline two", 11); got != "line one..." {
		t.Errorf("hint = %q", got)
	}
}

func TestWrapContent(t *testing.T) {
	row := "   1 │ 12:00:00.000 │ " + strings.Repeat("word ", 20)
	out := wrapContent(row, 40)
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %q", out)
	}
	prefix := lipgloss.Width("   1 │ 12:00:00.000 │ ")
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, strings.Repeat(" ", prefix)) {
			t.Errorf("continuation not aligned: %q", l)
		}
	}
	if got := wrapContent("short", 40); got != "short" {
		t.Errorf("short line changed: %q", got)
	}
}

func TestPagerModel_Search(t *testing.T) {
	m := newPagerModel("test", "alpha\nbeta\nALPHA again\ngamma")
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 10})
	if !m.ready {
		t.Fatal("model should be ready after sizing")
	}

	m.searchQuery = "alpha"
	m.executeSearch()
	if len(m.searchLines) != 2 || m.searchLines[0] != 0 || m.searchLines[1] != 2 {
		t.Errorf("matches = %v", m.searchLines)
	}

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	if m.searchIndex != 1 {
		t.Errorf("index after n = %d", m.searchIndex)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'N'}})
	if m.searchIndex != 0 {
		t.Errorf("index after N = %d", m.searchIndex)
	}

	m.searchQuery = "delta"
	m.executeSearch()
	if !m.searchFailed || !strings.Contains(m.View(), "Pattern not found") {
		t.Error("missing match should be reported")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.searchQuery != "" || m.searchFailed {
		t.Error("esc should clear the search")
	}
}
