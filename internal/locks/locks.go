// Package locks provides in-memory read/write locks keyed by resource id.
//
// A resource is either unlocked, held by any number of readers, or held by
// exactly one writer. Blocking acquisitions queue in FIFO order per resource and
// are woken when a holder releases. There is no deadlock detection; callers pair
// every acquisition with a release (or ClearTaskLocks on cancellation).
package locks

import (
	"context"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// LockType is the kind of lock held on a resource.
type LockType string

const (
	Read  LockType = "read"
	Write LockType = "write"
)

// Record describes one holder's lock on a resource.
type Record struct {
	Resource   string    `json:"resource"`
	Type       LockType  `json:"type"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type waiter struct {
	lockType LockType
	holder   string
	granted  chan struct{}
}

// Manager tracks lock records and queued waiters.
type Manager struct {
	mu      sync.Mutex
	locks   map[string][]Record
	waiters map[string][]*waiter
	logger  *logging.Logger
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		locks:   make(map[string][]Record),
		waiters: make(map[string][]*waiter),
		logger:  logging.New().WithComponent("locks"),
	}
}

// TryAcquire attempts to take a lock without blocking.
func (m *Manager) TryAcquire(resource string, lockType LockType, holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryAcquireLocked(resource, lockType, holder)
}

func (m *Manager) tryAcquireLocked(resource string, lockType LockType, holder string) bool {
	existing := m.locks[resource]
	if len(existing) > 0 {
		if lockType == Write {
			return false
		}
		for _, rec := range existing {
			if rec.Type == Write {
				return false
			}
		}
	}
	m.locks[resource] = append(existing, Record{
		Resource:   resource,
		Type:       lockType,
		Holder:     holder,
		AcquiredAt: time.Now(),
	})
	return true
}

// Acquire blocks until the lock is granted or ctx is done. Waiters on the same
// resource are served in arrival order. It returns false with ctx.Err() when
// the wait was abandoned.
func (m *Manager) Acquire(ctx context.Context, resource string, lockType LockType, holder string) (bool, error) {
	m.mu.Lock()
	if len(m.waiters[resource]) == 0 && m.tryAcquireLocked(resource, lockType, holder) {
		m.mu.Unlock()
		return true, nil
	}
	w := &waiter{lockType: lockType, holder: holder, granted: make(chan struct{})}
	m.waiters[resource] = append(m.waiters[resource], w)
	m.mu.Unlock()

	m.logger.Debug("lock wait queued", map[string]interface{}{
		"resource": resource,
		"type":     string(lockType),
		"holder":   holder,
	})

	select {
	case <-w.granted:
		return true, nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		select {
		case <-w.granted:
			// Granted while we were giving up; hand it back.
			m.releaseLocked(resource, holder)
		default:
			m.removeWaiterLocked(resource, w)
		}
		return false, ctx.Err()
	}
}

// Release drops every lock holder owns on resource. Unknown resources and
// holders are ignored.
func (m *Manager) Release(resource, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(resource, holder)
}

func (m *Manager) releaseLocked(resource, holder string) {
	existing, ok := m.locks[resource]
	if !ok {
		return
	}
	kept := existing[:0]
	for _, rec := range existing {
		if rec.Holder != holder {
			kept = append(kept, rec)
		}
	}
	if len(kept) == 0 {
		delete(m.locks, resource)
	} else {
		m.locks[resource] = kept
	}
	m.wakeLocked(resource)
}

// wakeLocked grants queued waiters from the head of the queue until one cannot
// be satisfied.
func (m *Manager) wakeLocked(resource string) {
	queue := m.waiters[resource]
	for len(queue) > 0 {
		w := queue[0]
		if !m.tryAcquireLocked(resource, w.lockType, w.holder) {
			break
		}
		queue = queue[1:]
		close(w.granted)
	}
	if len(queue) == 0 {
		delete(m.waiters, resource)
	} else {
		m.waiters[resource] = queue
	}
}

func (m *Manager) removeWaiterLocked(resource string, target *waiter) {
	queue := m.waiters[resource]
	for i, w := range queue {
		if w == target {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(m.waiters, resource)
	} else {
		m.waiters[resource] = queue
	}
	// A removed head may have been blocking compatible waiters behind it.
	m.wakeLocked(resource)
}

// IsLocked reports whether any holder has a lock on resource.
func (m *Manager) IsLocked(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks[resource]) > 0
}

// GetLockInfo returns a copy of the records for resource.
func (m *Manager) GetLockInfo(resource string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.locks[resource]
	if len(existing) == 0 {
		return nil
	}
	out := make([]Record, len(existing))
	copy(out, existing)
	return out
}

// ClearTaskLocks force-releases every lock owned by holder across all
// resources and returns how many resources were touched.
func (m *Manager) ClearTaskLocks(holder string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []string
	for resource, recs := range m.locks {
		for _, rec := range recs {
			if rec.Holder == holder {
				owned = append(owned, resource)
				break
			}
		}
	}
	for _, resource := range owned {
		m.releaseLocked(resource, holder)
	}
	if len(owned) > 0 {
		m.logger.Info("cleared task locks", map[string]interface{}{
			"holder":    holder,
			"resources": len(owned),
		})
	}
	return len(owned)
}
