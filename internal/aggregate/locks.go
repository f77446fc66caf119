package aggregate

import (
	"sync"

	"github.com/roach88/punchsync/internal/punch"
)

type dayKey struct {
	employeeID int64
	date       punch.Date
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// dayLocks serializes work per (employee, date). Entries are reference
// counted and removed when the last holder unlocks, so the map only holds
// days with in-flight applies.
type dayLocks struct {
	mu    sync.Mutex
	locks map[dayKey]*refMutex
}

func newDayLocks() *dayLocks {
	return &dayLocks{locks: make(map[dayKey]*refMutex)}
}

// lock blocks until the caller holds the (employee, date) lock and returns
// the matching unlock func.
func (l *dayLocks) lock(employeeID int64, date punch.Date) func() {
	k := dayKey{employeeID: employeeID, date: date}

	l.mu.Lock()
	m, ok := l.locks[k]
	if !ok {
		m = &refMutex{}
		l.locks[k] = m
	}
	m.refs++
	l.mu.Unlock()

	m.mu.Lock()

	return func() {
		m.mu.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, k)
		}
		l.mu.Unlock()
	}
}

// size returns the number of tracked keys.
func (l *dayLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
