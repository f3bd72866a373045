package service

import (
	"sync"

	"github.com/google/uuid"
)

// taskLocks serializes read-modify-write sequences on one task.
type taskLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *taskLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// forget drops the lock of a deleted task. Must be called with the task lock held.
func (l *taskLocks) forget(id uuid.UUID) {
	l.mu.Lock()
	delete(l.locks, id)
	l.mu.Unlock()
}
