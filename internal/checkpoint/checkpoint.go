// Package checkpoint persists per-iteration snapshots of a decision loop run.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TaskOutcome is one executed task as recorded in a snapshot.
type TaskOutcome struct {
	TaskID  string `json:"task_id"`
	Skill   string `json:"skill"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is the loop state after one iteration.
type Snapshot struct {
	RunID            string        `json:"run_id"`
	Iteration        int           `json:"iteration"`
	MaxIterations    int           `json:"max_iterations"`
	Action           string        `json:"action"` // execute, adjust, complete, abort
	Reason           string        `json:"reason,omitempty"`
	Executed         []TaskOutcome `json:"executed,omitempty"`
	Pending          []string      `json:"pending,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
	ErrorTypes       []string      `json:"error_types,omitempty"`
	ToolCalls        int           `json:"tool_calls"`
	ContextTokens    int           `json:"context_tokens"`
	StrategyAdjusted bool          `json:"strategy_adjusted,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Trail is every snapshot of one run, oldest first.
type Trail struct {
	RunID     string      `json:"run_id"`
	Snapshots []*Snapshot `json:"snapshots"`
}

// Latest returns the newest snapshot or nil.
func (t *Trail) Latest() *Snapshot {
	if t == nil || len(t.Snapshots) == 0 {
		return nil
	}
	return t.Snapshots[len(t.Snapshots)-1]
}

// Store keeps trails in memory and mirrors each to <dir>/<run>.json.
type Store struct {
	dir    string
	trails map[string]*Trail
	mu     sync.RWMutex
}

// NewStore creates a checkpoint store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{
		dir:    dir,
		trails: make(map[string]*Trail),
	}, nil
}

// Save appends a snapshot to its run's trail and flushes the trail.
func (s *Store) Save(snap *Snapshot) error {
	if snap.RunID == "" {
		return fmt.Errorf("snapshot has no run id")
	}
	if strings.ContainsAny(snap.RunID, `/\`) {
		return fmt.Errorf("invalid run id %q", snap.RunID)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.trails[snap.RunID]
	if !ok {
		tr = &Trail{RunID: snap.RunID}
		s.trails[snap.RunID] = tr
	}
	tr.Snapshots = append(tr.Snapshots, snap)
	return s.flush(tr)
}

// Get returns the trail of a run, or nil.
func (s *Store) Get(runID string) *Trail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trails[runID]
}

// Runs lists known run ids, sorted.
func (s *Store) Runs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.trails))
	for id := range s.trails {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// flush writes a trail to disk.
func (s *Store) flush(tr *Trail) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s.json", tr.RunID))
	return os.WriteFile(path, data, 0644)
}

// Load reads trails from disk. Unreadable files are skipped.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var tr Trail
		if err := json.Unmarshal(data, &tr); err != nil {
			continue
		}
		if tr.RunID == "" {
			tr.RunID = strings.TrimSuffix(entry.Name(), ".json")
		}
		s.trails[tr.RunID] = &tr
	}
	return nil
}
