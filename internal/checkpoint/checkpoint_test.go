package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cp")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if store == nil {
		t.Fatal("store is nil")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

func TestSaveAndGet(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	for i := 1; i <= 3; i++ {
		snap := &Snapshot{
			RunID:     "run-1",
			Iteration: i,
			Action:    "execute",
			Executed:  []TaskOutcome{{TaskID: "t1", Skill: "exec", Success: true}},
			Pending:   []string{"t2"},
		}
		if err := store.Save(snap); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	tr := store.Get("run-1")
	if tr == nil || len(tr.Snapshots) != 3 {
		t.Fatalf("trail = %+v", tr)
	}
	if tr.Latest().Iteration != 3 || tr.Latest().Timestamp.IsZero() {
		t.Errorf("latest = %+v", tr.Latest())
	}
	if _, err := os.Stat(filepath.Join(dir, "run-1.json")); err != nil {
		t.Error("trail file not written to disk")
	}
	if store.Get("missing").Latest() != nil {
		t.Error("missing trail should have no latest snapshot")
	}
}

func TestSave_RejectsBadRunID(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if err := store.Save(&Snapshot{}); err == nil {
		t.Error("expected error for empty run id")
	}
	if err := store.Save(&Snapshot{RunID: "../escape"}); err == nil {
		t.Error("expected error for path-like run id")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	store.Save(&Snapshot{RunID: "a", Iteration: 1, Errors: []string{"boom"}})
	store.Save(&Snapshot{RunID: "b", Iteration: 1})
	os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{not json"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	fresh, _ := NewStore(dir)
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	runs := fresh.Runs()
	if len(runs) != 2 || runs[0] != "a" || runs[1] != "b" {
		t.Errorf("runs = %v", runs)
	}
	if got := fresh.Get("a").Latest(); got.Errors[0] != "boom" {
		t.Errorf("snapshot a = %+v", got)
	}
}
