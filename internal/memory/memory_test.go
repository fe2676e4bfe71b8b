package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vinayprograms/agentcore/internal/executor"
)

func TestInMemoryStore_RecallNewestFirst(t *testing.T) {
	s := NewInMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Remember(ctx, Observation{Skill: "exec", TaskID: fmt.Sprintf("t%d", i), Outcome: OutcomeSuccess})
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}

	got, err := s.Recall(ctx, RecallOpts{})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	var ids []string
	for _, o := range got {
		ids = append(ids, o.TaskID)
		if o.ID == "" || o.CreatedAt.IsZero() {
			t.Errorf("observation %s missing id or timestamp", o.TaskID)
		}
	}
	if fmt.Sprint(ids) != "[t4 t3 t2]" {
		t.Errorf("ids = %v", ids)
	}
}

func TestInMemoryStore_RecallFilters(t *testing.T) {
	s := NewInMemoryStore(10)
	ctx := context.Background()
	s.Remember(ctx, Observation{Skill: "exec", Outcome: OutcomeSuccess})
	s.Remember(ctx, Observation{Skill: "exec", Outcome: OutcomeFailure, Error: "exit 1"})
	s.Remember(ctx, Observation{Skill: "process", Outcome: OutcomeFailure})

	got, _ := s.Recall(ctx, RecallOpts{Skill: "exec", Outcome: OutcomeFailure})
	if len(got) != 1 || got[0].Error != "exit 1" {
		t.Errorf("filtered = %+v", got)
	}
	got, _ = s.Recall(ctx, RecallOpts{Outcome: OutcomeFailure, Limit: 1})
	if len(got) != 1 || got[0].Skill != "process" {
		t.Errorf("limited = %+v", got)
	}
}

func TestRecorder_RecordsOutcomes(t *testing.T) {
	s := NewInMemoryStore(10)
	r := NewRecorder(s, "sess-1")

	r.RecordSuccess(executor.Operation{Skill: "exec", TaskID: "t1", Duration: time.Second})
	r.RecordFailure(executor.Operation{Skill: "exec", TaskID: "t2", Error: "permission denied"})
	r.RecordSuccess(executor.Operation{Skill: "exec", TaskID: "t3"})

	st := r.Stats("exec")
	if st.Successes != 2 || st.Failures != 1 || st.LastError != "permission denied" {
		t.Errorf("stats = %+v", st)
	}
	if rate := st.SuccessRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("success rate = %v", rate)
	}
	if r.Stats("missing").SuccessRate() != 0 {
		t.Error("unknown skill should have zero rate")
	}

	got, _ := s.Recall(context.Background(), RecallOpts{})
	if len(got) != 3 || got[0].TaskID != "t3" || got[1].Outcome != OutcomeFailure || got[2].SessionID != "sess-1" {
		t.Errorf("stored = %+v", got)
	}
}

type failingStore struct{ calls int }

func (f *failingStore) Remember(ctx context.Context, obs Observation) error {
	f.calls++
	return errors.New("disk full")
}

func (f *failingStore) Recall(ctx context.Context, opts RecallOpts) ([]Observation, error) {
	return nil, nil
}

func TestRecorder_StoreErrorIsSwallowed(t *testing.T) {
	fs := &failingStore{}
	r := NewRecorder(fs, "")
	r.RecordFailure(executor.Operation{Skill: "exec"})
	if fs.calls != 1 {
		t.Errorf("store calls = %d", fs.calls)
	}
	if r.Stats("exec").Failures != 1 {
		t.Error("stats should still count the failure")
	}
}
