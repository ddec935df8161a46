package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// errAttemptRunning means an abandoned handler attempt of the session did not
// finish within the wait bound.
var errAttemptRunning = errors.New("previous handler attempt still running")

// sessionLocks hands out one exclusive, context-aware lock per session id.
// Entries are reference counted and dropped when no turn holds or waits.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
	// busy is closed when the session's outstanding handler attempt returns.
	busy chan struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session lock is held or ctx is done.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(sessionID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.unref(sessionID, entry)
		})
	}, nil
}

// begin marks a handler attempt of sessionID as outstanding. The caller must
// hold the session lock. The returned func ends the attempt; the entry stays
// alive until then, even after the lock is released.
func (l *sessionLocks) begin(sessionID string) func() {
	l.mu.Lock()
	entry := l.locks[sessionID]
	entry.refs++
	done := make(chan struct{})
	entry.busy = done
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		if entry.busy == done {
			entry.busy = nil
		}
		l.mu.Unlock()
		close(done)
		l.unref(sessionID, entry)
	}
}

// settle waits up to limit for the session's outstanding attempt to return.
func (l *sessionLocks) settle(ctx context.Context, sessionID string, limit time.Duration) error {
	l.mu.Lock()
	var busy chan struct{}
	if entry, ok := l.locks[sessionID]; ok {
		busy = entry.busy
	}
	l.mu.Unlock()
	if busy == nil {
		return nil
	}

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-busy:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errAttemptRunning
	}
}

func (l *sessionLocks) unref(sessionID string, entry *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, sessionID)
	}
}

// size returns the number of tracked sessions.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
