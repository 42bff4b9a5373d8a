package workflows

import "sync"

// RunLockManager serializes work per run id while letting different runs
// proceed in parallel.
type RunLockManager interface {
	Lock(runID string) func()
	TryLock(runID string) (func(), bool)
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// PerRunLockManager keeps one mutex per run that is in use and drops it once
// no caller holds or waits on it.
type PerRunLockManager struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

func NewPerRunLockManager() *PerRunLockManager {
	return &PerRunLockManager{locks: make(map[string]*runLock)}
}

func (m *PerRunLockManager) acquire(runID string) *runLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks == nil {
		m.locks = make(map[string]*runLock)
	}
	lock := m.locks[runID]
	if lock == nil {
		lock = &runLock{}
		m.locks[runID] = lock
	}
	lock.refs++
	return lock
}

func (m *PerRunLockManager) release(runID string, lock *runLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.refs--
	if lock.refs == 0 && m.locks[runID] == lock {
		delete(m.locks, runID)
	}
}

// Lock blocks until the run's lock is held and returns its release func.
func (m *PerRunLockManager) Lock(runID string) func() {
	lock := m.acquire(runID)
	lock.mu.Lock()
	return m.unlocker(runID, lock)
}

// TryLock acquires the run's lock only if it is free.
func (m *PerRunLockManager) TryLock(runID string) (func(), bool) {
	lock := m.acquire(runID)
	if !lock.mu.TryLock() {
		m.release(runID, lock)
		return nil, false
	}
	return m.unlocker(runID, lock), true
}

func (m *PerRunLockManager) unlocker(runID string, lock *runLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			m.release(runID, lock)
		})
	}
}

func (m *PerRunLockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
