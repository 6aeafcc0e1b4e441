package deferred

import (
	"sync"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("deferred")

// Session is the handle of one caller of a deferred cache. Writes issued
// through a session are tracked by the session's CompletionLock, so Flush
// waits for exactly the writes of this session.
//
// A session must not be used by several goroutines at the same time.
type Session interface {
	cache.Cache
	// Flush blocks until every write of this session was applied or failed.
	// It returns the first failure.
	Flush() error
	// AsyncFlush is like Flush but returns a channel receiving the result.
	AsyncFlush() <-chan error
}

// Deferred is a cache whose writes may be applied after Put returned.
type Deferred interface {
	NewSession() Session
}

// --------------------------------------------------------------------------
// Completion Lock
// --------------------------------------------------------------------------

// CompletionLock counts the outstanding writes of one session.
type CompletionLock struct {
	mu      sync.Mutex
	pending int
	err     error
	waiters []chan error
}

func (l *CompletionLock) add() {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()
}

// done marks one write as applied (err == nil) or failed
func (l *CompletionLock) done(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending--
	if err != nil && l.err == nil {
		l.err = err
	}
	if l.pending > 0 || len(l.waiters) == 0 {
		return
	}
	for _, w := range l.waiters {
		w <- l.err
	}
	l.waiters = nil
	l.err = nil
}

// wait returns a channel that receives the result once nothing is pending.
// The recorded failure is reported once.
func (l *CompletionLock) wait() <-chan error {
	ch := make(chan error, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == 0 {
		ch <- l.err
		l.err = nil
		return ch
	}
	l.waiters = append(l.waiters, ch)
	return ch
}

// Pending returns the number of outstanding writes.
func (l *CompletionLock) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

func done(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}
