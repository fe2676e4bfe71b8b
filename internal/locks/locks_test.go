package locks

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func checkInvariant(t *testing.T, m *Manager, resource string) {
	t.Helper()
	recs := m.GetLockInfo(resource)
	writes := 0
	for _, r := range recs {
		if r.Type == Write {
			writes++
		}
	}
	if writes > 0 && len(recs) != 1 {
		t.Fatalf("resource %s: %d records with %d writers", resource, len(recs), writes)
	}
}

func TestTryAcquire_WriteConflict(t *testing.T) {
	m := NewManager()

	if !m.TryAcquire("r1", Write, "t1") {
		t.Fatal("first write should succeed")
	}
	if m.TryAcquire("r1", Write, "t2") {
		t.Fatal("second write should fail while t1 holds the lock")
	}
	m.Release("r1", "t1")
	if !m.TryAcquire("r1", Write, "t2") {
		t.Fatal("write should succeed after release")
	}
}

func TestTryAcquire_ReadSharing(t *testing.T) {
	m := NewManager()

	if !m.TryAcquire("r", Read, "a") || !m.TryAcquire("r", Read, "b") {
		t.Fatal("readers should share")
	}
	if m.TryAcquire("r", Write, "c") {
		t.Error("writer should not join readers")
	}
	if got := len(m.GetLockInfo("r")); got != 2 {
		t.Errorf("expected 2 records, got %d", got)
	}

	m2 := NewManager()
	m2.TryAcquire("r", Write, "a")
	if m2.TryAcquire("r", Read, "b") {
		t.Error("reader should not join a writer")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	m := NewManager()
	m.Release("missing", "nobody")

	m.TryAcquire("r", Read, "a")
	m.Release("r", "a")
	m.Release("r", "a")
	m.Release("r", "b")

	if m.IsLocked("r") {
		t.Error("resource should be unlocked")
	}
	if info := m.GetLockInfo("r"); info != nil {
		t.Errorf("expected nil info, got %v", info)
	}
}

func TestConcurrentTryAcquire(t *testing.T) {
	const n = 50

	t.Run("readers", func(t *testing.T) {
		m := NewManager()
		var ok int64
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if m.TryAcquire("res", Read, fmt.Sprintf("h%d", i)) {
					atomic.AddInt64(&ok, 1)
				}
			}(i)
		}
		wg.Wait()
		if ok != n {
			t.Errorf("expected %d readers, got %d", n, ok)
		}
	})

	t.Run("writers", func(t *testing.T) {
		m := NewManager()
		var ok int64
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if m.TryAcquire("res", Write, fmt.Sprintf("h%d", i)) {
					atomic.AddInt64(&ok, 1)
				}
			}(i)
		}
		wg.Wait()
		if ok != 1 {
			t.Errorf("expected exactly 1 writer, got %d", ok)
		}
	})
}

func TestInvariant_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := NewManager()
	resources := []string{"a", "b", "c"}
	holders := []string{"h1", "h2", "h3", "h4"}

	for i := 0; i < 5000; i++ {
		res := resources[rng.Intn(len(resources))]
		holder := holders[rng.Intn(len(holders))]
		switch rng.Intn(4) {
		case 0:
			m.TryAcquire(res, Write, holder)
		case 1, 2:
			m.TryAcquire(res, Read, holder)
		case 3:
			m.Release(res, holder)
		}
		for _, r := range resources {
			checkInvariant(t, m, r)
		}
	}
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	m := NewManager()
	m.TryAcquire("r", Write, "t1")

	done := make(chan bool, 1)
	go func() {
		ok, _ := m.Acquire(context.Background(), "r", Write, "t2")
		done <- ok
	}()

	select {
	case <-done:
		t.Fatal("acquire should block while t1 holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release("r", "t1")

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("acquire should succeed after release")
		}
	case <-time.After(time.Second):
		t.Fatal("acquire was not woken by release")
	}

	info := m.GetLockInfo("r")
	if len(info) != 1 || info[0].Holder != "t2" {
		t.Errorf("expected t2 to hold the lock, got %+v", info)
	}
}

func TestAcquire_FIFO(t *testing.T) {
	m := NewManager()
	m.TryAcquire("r", Write, "owner")

	order := make(chan string, 3)
	for _, h := range []string{"w1", "w2", "w3"} {
		h := h
		go func() {
			if ok, _ := m.Acquire(context.Background(), "r", Write, h); ok {
				order <- h
			}
		}()
		// Give each waiter time to enqueue before the next.
		time.Sleep(20 * time.Millisecond)
	}

	m.Release("r", "owner")
	for _, want := range []string{"w1", "w2", "w3"} {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
			m.Release("r", got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestAcquire_ReadersWokenTogether(t *testing.T) {
	m := NewManager()
	m.TryAcquire("r", Write, "owner")

	var wg sync.WaitGroup
	for _, h := range []string{"r1", "r2"} {
		wg.Add(1)
		go func(h string) {
			defer wg.Done()
			m.Acquire(context.Background(), "r", Read, h)
		}(h)
	}
	time.Sleep(30 * time.Millisecond)
	m.Release("r", "owner")
	wg.Wait()

	if got := len(m.GetLockInfo("r")); got != 2 {
		t.Errorf("expected both readers to hold the lock, got %d", got)
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	m := NewManager()
	m.TryAcquire("r", Write, "t1")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ok, err := m.Acquire(ctx, "r", Write, "t2")
	if ok {
		t.Fatal("acquire should fail on context timeout")
	}
	if err == nil {
		t.Fatal("expected context error")
	}

	m.Release("r", "t1")
	if m.IsLocked("r") {
		t.Error("abandoned waiter must not be granted the lock")
	}
}

func TestClearTaskLocks(t *testing.T) {
	m := NewManager()
	m.TryAcquire("a", Write, "task")
	m.TryAcquire("b", Read, "task")
	m.TryAcquire("b", Read, "other")

	if n := m.ClearTaskLocks("task"); n != 2 {
		t.Errorf("expected 2 resources cleared, got %d", n)
	}
	if m.IsLocked("a") {
		t.Error("a should be unlocked")
	}
	info := m.GetLockInfo("b")
	if len(info) != 1 || info[0].Holder != "other" {
		t.Errorf("expected other's read lock to remain, got %+v", info)
	}
	if n := m.ClearTaskLocks("unknown"); n != 0 {
		t.Errorf("unknown holder should clear nothing, got %d", n)
	}
}
