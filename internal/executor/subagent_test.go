package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentcore/internal/locks"
	"github.com/vinayprograms/agentcore/internal/skills"
)

type recordingCanceller struct {
	mu     sync.Mutex
	scopes []string
}

func (r *recordingCanceller) CancelScope(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, key)
	return 1
}

func (r *recordingCanceller) cancelled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scopes...)
}

func newSubAgents(t *testing.T, p *scriptedProvider, lm *locks.Manager, pc ScopeCanceller, ss ...skills.Skill) *SubAgents {
	t.Helper()
	reg := skills.NewRegistry()
	for _, s := range ss {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	return NewSubAgents(SubAgentConfig{
		NewExecutor: func() *Executor { return NewExecutor(p, reg, Config{}) },
		Processes:   pc,
		Locks:       lm,
		SessionID:   "session-1",
	})
}

func TestSubAgents_SyncSpawn(t *testing.T) {
	p := &scriptedProvider{decisions: []string{`{"action": "execute", "task_id": "t1"}`}, final: "done"}
	pc := &recordingCanceller{}
	sa := newSubAgents(t, p, locks.NewManager(), pc, &fakeSkill{name: "ok"})

	info, err := sa.Spawn(context.Background(), Request{Tasks: []Task{{ID: "t1", SkillName: "ok"}}}, ModeSync)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if info.Status != SubAgentCompleted || info.Result == nil || !info.Result.Success {
		t.Fatalf("info = %+v", info)
	}
	if info.Result.FinalMessage != "done" {
		t.Errorf("final message = %q", info.Result.FinalMessage)
	}
	// Scope is released once the run ends
	if got := pc.cancelled(); len(got) != 1 || got[0] != info.ID {
		t.Errorf("cancelled scopes = %v", got)
	}
	if err := sa.Cancel(info.ID); err != nil {
		t.Errorf("cancelling a finished sub-agent: %v", err)
	}
	if got, _ := sa.Get(info.ID); got.Status != SubAgentCompleted {
		t.Errorf("status after no-op cancel = %s", got.Status)
	}
}

func TestSubAgents_AsyncCancel(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := &fakeSkill{
		name:   "migrate",
		claims: []skills.ResourceClaim{{Resource: "db", Type: locks.Write}},
		run: func(ctx context.Context, params map[string]interface{}) (*skills.Result, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	p := &scriptedProvider{decisions: []string{`{"action": "execute", "task_id": "t1"}`}}
	lm := locks.NewManager()
	pc := &recordingCanceller{}
	sa := newSubAgents(t, p, lm, pc, blocking)

	info, err := sa.Spawn(context.Background(), Request{Tasks: []Task{{ID: "t1", SkillName: "migrate"}}}, ModeAsync)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if info.Status != SubAgentRunning {
		t.Fatalf("status = %s", info.Status)
	}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("skill never started")
	}
	recs := lm.GetLockInfo("db")
	if len(recs) != 1 || recs[0].Holder != info.ID {
		t.Fatalf("lock records = %+v", recs)
	}

	if err := sa.Cancel(info.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := sa.Wait(ctx, info.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if final.Status != SubAgentCancelled {
		t.Errorf("status = %s", final.Status)
	}
	if final.Result == nil || final.Result.Success {
		t.Errorf("result = %+v", final.Result)
	}
	if lm.IsLocked("db") {
		t.Error("lock should be released")
	}
	if got := pc.cancelled(); len(got) != 1 || got[0] != info.ID {
		t.Errorf("cancelled scopes = %v", got)
	}
}

func TestSubAgents_Errors(t *testing.T) {
	sa := newSubAgents(t, &scriptedProvider{}, nil, nil)

	if _, err := sa.Spawn(context.Background(), Request{}, Mode("later")); err == nil {
		t.Error("expected error for unknown mode")
	}
	if _, err := sa.Get("sub-missing"); !errors.Is(err, ErrUnknownSubAgent) {
		t.Errorf("Get: %v", err)
	}
	if err := sa.Cancel("sub-missing"); !errors.Is(err, ErrUnknownSubAgent) {
		t.Errorf("Cancel: %v", err)
	}
	if len(sa.List()) != 0 {
		t.Error("failed spawns should not be listed")
	}

	empty := NewSubAgents(SubAgentConfig{})
	if _, err := empty.Spawn(context.Background(), Request{}, ModeSync); err == nil {
		t.Error("expected error without an executor factory")
	}
}
