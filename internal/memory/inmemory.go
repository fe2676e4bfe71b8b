package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the most recent observations in a bounded ring.
// All data is lost when the process exits.
type InMemoryStore struct {
	mu   sync.RWMutex
	ring []Observation
	next int
	full bool
}

// NewInMemoryStore creates a store holding at most capacity observations.
func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 256
	}
	return &InMemoryStore{ring: make([]Observation, capacity)}
}

// Remember stores obs, evicting the oldest entry when full.
func (s *InMemoryStore) Remember(ctx context.Context, obs Observation) error {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = obs
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recall walks the ring from newest to oldest.
func (s *InMemoryStore) Recall(ctx context.Context, opts RecallOpts) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.ring)
	}
	var out []Observation
	for i := 0; i < n && len(out) < opts.limit(); i++ {
		idx := (s.next - 1 - i + len(s.ring)) % len(s.ring)
		if obs := s.ring[idx]; opts.matches(obs) {
			out = append(out, obs)
		}
	}
	return out, nil
}

// Len returns the number of stored observations.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.ring)
	}
	return s.next
}
