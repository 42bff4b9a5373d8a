package workflows

import (
	"sync"
	"testing"
)

func TestPerRunLockManagerTryLock(t *testing.T) {
	m := NewPerRunLockManager()
	unlock, ok := m.TryLock("run-1")
	if !ok {
		t.Fatalf("expected first try lock to succeed")
	}
	if _, ok := m.TryLock("run-1"); ok {
		t.Fatalf("expected second try lock on the same run to fail")
	}
	other, ok := m.TryLock("run-2")
	if !ok {
		t.Fatalf("different runs must not contend")
	}
	other()
	unlock()
	unlock()
	again, ok := m.TryLock("run-1")
	if !ok {
		t.Fatalf("expected lock to be free after unlock")
	}
	again()
	if m.size() != 0 {
		t.Fatalf("expected idle locks to be dropped, have %d", m.size())
	}
}

func TestPerRunLockManagerSerializes(t *testing.T) {
	m := NewPerRunLockManager()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("run-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if m.size() != 0 {
		t.Fatalf("expected idle locks to be dropped, have %d", m.size())
	}
}
