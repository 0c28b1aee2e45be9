package service

import (
	"sync"

	"github.com/google/uuid"
)

// userLocks serializes in-flight status transitions per user so two requests
// for the same user cannot reorder steps 2/3 after their step 1 commits.
// Cross-user requests stay fully parallel. Entries are reference-counted and
// removed once the last holder releases, so the map does not grow with the
// user table.
type userLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[uuid.UUID]*userLock)}
}

// lock acquires the per-user mutex and returns its release function.
func (l *userLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &userLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
