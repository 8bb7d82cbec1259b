package workerpool

import (
	"sort"
	"sync"
)

// PathLockManager provides per-file mutual exclusion for concurrent task
// execution. Uses a keyed mutex pattern: each file path gets its own mutex,
// allowing concurrent writes to different files while blocking concurrent
// writes to the same file.
//
// This is the execution-time complement to schedule-time conflict
// detection: tasks whose overlap was waived by an allow/merge resolution
// still serialize here instead of racing on the same paths.
type PathLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-file mutexes
}

// NewPathLockManager creates a new PathLockManager.
func NewPathLockManager() *PathLockManager {
	return &PathLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-file mutex for the given path.
// Creates the mutex on first access if it doesn't exist.
func (m *PathLockManager) Lock(path string) {
	m.mu.Lock()
	fileLock, exists := m.locks[path]
	if !exists {
		fileLock = &sync.Mutex{}
		m.locks[path] = fileLock
	}
	m.mu.Unlock()

	// Acquire the per-file lock (outside the manager lock to avoid contention)
	fileLock.Lock()
}

// Unlock releases the per-file mutex for the given path.
func (m *PathLockManager) Unlock(path string) {
	m.mu.Lock()
	fileLock, exists := m.locks[path]
	m.mu.Unlock()

	if exists {
		fileLock.Unlock()
	}
}

// LockAll acquires locks for ALL given paths.
// CRITICAL: sorts paths lexicographically BEFORE acquiring to prevent
// deadlocks between executions locking overlapping sets.
func (m *PathLockManager) LockAll(paths []string) {
	if len(paths) == 0 {
		return
	}

	// Create a sorted copy to avoid modifying the original slice
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for _, path := range sorted {
		m.Lock(path)
	}
}

// UnlockAll releases locks for all given paths.
// Releases in reverse sorted order for symmetry with LockAll.
func (m *PathLockManager) UnlockAll(paths []string) {
	if len(paths) == 0 {
		return
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		m.Unlock(sorted[i])
	}
}
