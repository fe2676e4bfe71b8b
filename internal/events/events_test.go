package events

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subj string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subj)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestFromResult(t *testing.T) {
	e := FromResult(ToolResultEvent{
		CorrelationID: "c1",
		Tool:          "exec",
		Success:       false,
		Error:         "exit code 1",
		Duration:      1500 * time.Millisecond,
	})
	if e.Type != TypeToolResult || e.Success == nil || *e.Success || e.DurationMs != 1500 {
		t.Errorf("event = %+v", e)
	}
	if c := FromCall(ToolCallEvent{Tool: "exec"}); c.Success != nil || c.Type != TypeToolCall {
		t.Errorf("call event = %+v", c)
	}
}

func TestFileSink_AppendAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	ctx := context.Background()

	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	s.Record(ctx, FromCall(ToolCallEvent{CorrelationID: "c1", Tool: "exec", Params: map[string]interface{}{"command": "ls"}}))
	s.Record(ctx, FromResult(ToolResultEvent{CorrelationID: "c1", Tool: "exec", Success: true, Result: "a\nb"}))
	s.Close()

	s, err = OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Record(ctx, FromCall(ToolCallEvent{CorrelationID: "c2", Tool: "process"}))
	s.Close()

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	for i, e := range got {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d", i, e.Seq)
		}
	}
	if got[0].Params["command"] != "ls" || got[1].Result != "a\nb" || !*got[1].Success {
		t.Errorf("events = %+v", got)
	}
}

func TestNATSSink(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewNATSSink(pub, "")
	if err := s.Record(context.Background(), FromCall(ToolCallEvent{Tool: "exec"})); err != nil {
		t.Fatal(err)
	}
	if pub.subjects[0] != "agentcore.events.tool_call" {
		t.Errorf("subject = %s", pub.subjects[0])
	}
	var e Event
	if err := json.Unmarshal(pub.payloads[0], &e); err != nil || e.Tool != "exec" {
		t.Errorf("payload = %s", pub.payloads[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Record(ctx, Event{Type: TypeToolCall}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMulti(t *testing.T) {
	var seen []string
	ok := Func(func(_ context.Context, e Event) error { seen = append(seen, e.Tool); return nil })
	bad := Func(func(context.Context, Event) error { return errors.New("disk full") })

	m := NewMulti(ok, nil, bad, ok)
	if m.Len() != 3 {
		t.Fatalf("Len = %d", m.Len())
	}
	err := m.Record(context.Background(), Event{Tool: "exec"})
	if err == nil || err.Error() != "disk full" {
		t.Errorf("err = %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("healthy sinks should still see the event: %v", seen)
	}
}
