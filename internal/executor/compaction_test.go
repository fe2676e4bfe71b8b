package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCharEstimator(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{"你好世", 2},
		{"你好世abcd", 3},
		{"こんにちは", 4},
	}
	est := CharEstimator{}
	for _, tt := range tests {
		if got := est.Estimate(tt.text); got != tt.want {
			t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	e := NewExecutor(&scriptedProvider{}, nil, Config{})
	long := "HEAD " + strings.Repeat("word ", 10000) + "TAIL"

	got := e.truncateOutput(long, 2000)

	if !strings.HasPrefix(got, "HEAD ") || !strings.HasSuffix(got, "TAIL") {
		t.Error("expected head and tail to survive")
	}
	if !strings.Contains(got, "tokens elided") {
		t.Error("expected elision marker")
	}
	if n := e.estimator.Estimate(got); n > 2100 {
		t.Errorf("truncated estimate = %d", n)
	}
	if short := "fits"; e.truncateOutput(short, 2000) != short {
		t.Error("short output should be untouched")
	}
}

func TestMaybeCompact_Summarizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarnTokens = 500
	p := &scriptedProvider{final: "earlier tasks listed 3 files"}
	e := NewExecutor(p, nil, cfg)

	st := newState(nil)
	for _, id := range []string{"t1", "t2", "t3"} {
		st.Executed = append(st.Executed, TaskResult{TaskID: id, Success: true, Output: strings.Repeat("x ", 600)})
	}
	st.ContextTokens = e.stateTokens(st)

	e.maybeCompact(context.Background(), st)

	if st.Summary != "earlier tasks listed 3 files" {
		t.Errorf("summary = %q", st.Summary)
	}
	if st.Executed[0].Output != "" || !st.Executed[0].Compacted || st.Executed[2].Output == "" {
		t.Errorf("expected older outputs dropped and the latest kept: %+v", st.Executed)
	}
	if st.ContextTokens > 500 {
		t.Errorf("tokens after compaction = %d", st.ContextTokens)
	}
}

func TestMaybeCompact_HardTruncateWhenOracleFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarnTokens = 100
	cfg.TruncateTokens = 100000
	e := NewExecutor(&scriptedProvider{err: errors.New("down")}, nil, cfg)

	st := newState(nil)
	for i := 0; i < 6; i++ {
		st.Executed = append(st.Executed, TaskResult{TaskID: "t", Success: true, Output: strings.Repeat("y ", 100)})
	}
	st.ContextTokens = e.stateTokens(st)

	e.maybeCompact(context.Background(), st)

	kept := 0
	for _, tr := range st.Executed {
		if tr.Output != "" {
			kept++
		}
	}
	if kept != 3 {
		t.Errorf("kept %d outputs, want 3", kept)
	}
}
