package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/policy"
)

func newApprovals(t *testing.T, cfg approval.Config) *approval.Manager {
	t.Helper()
	m, err := approval.NewManager(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAuthorize_Blocked(t *testing.T) {
	g := New(policy.NewPipeline(&policy.DenyList{Patterns: []string{"exec"}}), nil)
	_, err := g.Authorize(context.Background(), "exec", nil, "s1")

	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %v", err)
	}
	if blocked.Stage != "deny_list" || blocked.Tool != "exec" {
		t.Errorf("blocked = %+v", blocked)
	}
}

func TestAuthorize_NoApprovalNeeded(t *testing.T) {
	g := New(policy.Default(nil), newApprovals(t, approval.Config{Enabled: true, Timeout: time.Minute}))
	auth, err := g.Authorize(context.Background(), "exec", map[string]interface{}{"command": "ls"}, "s1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if auth.Params["command"] != "ls" || auth.ApprovalID != "" {
		t.Errorf("auth = %+v", auth)
	}
}

func TestAuthorize_ApprovalExpires(t *testing.T) {
	mgr := newApprovals(t, approval.Config{Enabled: true, Timeout: 50 * time.Millisecond})
	g := New(policy.Default(nil), mgr)

	_, err := g.Authorize(context.Background(), "exec", map[string]interface{}{"command": "rm -rf /"}, "s1")
	if !errors.Is(err, approval.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	hist := mgr.History()
	if len(hist) != 1 || hist[0].Request.Operation != "exec: rm -rf /" || hist[0].Request.Risk != policy.RiskHigh {
		t.Errorf("history = %+v", hist)
	}
}

func TestAuthorize_ApprovedAndDenied(t *testing.T) {
	mgr := newApprovals(t, approval.Config{Enabled: true, Timeout: 5 * time.Second})
	approve := true
	mgr.OnRequest(func(r approval.Request) {
		if approve {
			mgr.Approve(r.ID, "ops")
		} else {
			mgr.Deny(r.ID, "ops", "no")
		}
	})
	g := New(policy.Default(nil), mgr)
	params := map[string]interface{}{"command": "rm notes.txt"}

	auth, err := g.Authorize(context.Background(), "exec", params, "s1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if auth.ApprovedBy != "ops" || auth.Risk != policy.RiskMedium || auth.ApprovalID == "" {
		t.Errorf("auth = %+v", auth)
	}

	approve = false
	if _, err := g.Authorize(context.Background(), "exec", params, "s1"); !errors.Is(err, approval.ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
}

func TestAuthorize_CustomRuleNotAutoApproved(t *testing.T) {
	f := &policy.File{Rules: []policy.RuleSpec{{Tool: "deploy", Action: "require_approval"}}}
	pipe, err := f.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := approval.DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	mgr := newApprovals(t, cfg)
	g := New(pipe, mgr)

	_, err = g.Authorize(context.Background(), "deploy", map[string]interface{}{}, "s1")
	if !errors.Is(err, approval.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	hist := mgr.History()
	if len(hist) != 1 || hist[0].ResolvedBy == "auto" {
		t.Errorf("history = %+v", hist)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		params map[string]interface{}
		want   string
	}{
		{map[string]interface{}{"command": "git", "args": []interface{}{"push", "-f"}}, "exec: git push -f"},
		{map[string]interface{}{"argv": []interface{}{"ls", "-l"}}, "exec: ls -l"},
		{map[string]interface{}{"b": 2, "a": 1}, "exec: a=1 b=2"},
	}
	for _, tt := range tests {
		if got := Summarize("exec", tt.params); got != tt.want {
			t.Errorf("Summarize(%v) = %q, want %q", tt.params, got, tt.want)
		}
	}
}
