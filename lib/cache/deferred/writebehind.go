package deferred

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/db/util"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrWriterFailed wraps the store error that put the writer into the
	// failed state. It is returned to every pending and future write until
	// Reset is called.
	ErrWriterFailed = errors.New("deferred: write-behind writer failed")

	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("deferred: write-behind cache closed")
)

var (
	batchesWritten = metrics.NewCounter(`dcache_writebehind_batches_total`)
	entriesWritten = metrics.NewCounter(`dcache_writebehind_entries_total`)
	writerFailures = metrics.NewCounter(`dcache_writebehind_failures_total`)
)

const defaultMaxBatch = 1000

// State is the state of the background writer.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// entry is one queued write
type entry struct {
	value cache.Value
	scope cache.Scope
	lock  *CompletionLock
}

// WriteBehind applies writes asynchronously. A written value is visible to
// reads at once through an in-memory buffer and is removed from the buffer
// once the underlying cache applied it.
//
// At most one background writer runs at a time. It is started by the first
// write, batches queued writes per scope into bulk writes and stops once both
// queues are empty.
type WriteBehind struct {
	underlying cache.Cache
	maxBatch   int

	queues  [2]*util.LockFreeMPSC[entry]       // indexed by scope
	buffers [2]*xsync.MapOf[string, *entry] // indexed by scope

	state   atomic.Int32
	errMu   sync.Mutex
	err     error
	drainMu sync.Mutex

	// lifecycle guards closed against concurrent submits
	lifecycle sync.RWMutex
	closed    bool
	writers   sync.WaitGroup
}

// NewWriteBehind creates a write-behind decorator for underlying. maxBatch
// bounds the entries per bulk write (<= 0 = 1000).
func NewWriteBehind(underlying cache.Cache, maxBatch int) *WriteBehind {
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	w := &WriteBehind{underlying: underlying, maxBatch: maxBatch}
	for i := range w.queues {
		w.queues[i] = util.NewLockFreeMPSC[entry]()
		w.buffers[i] = xsync.NewMapOf[string, *entry]()
	}
	return w
}

// State returns the state of the background writer.
func (w *WriteBehind) State() State {
	return State(w.state.Load())
}

// Err returns the failure of the writer, or nil if it did not fail.
func (w *WriteBehind) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Reset clears the failed state. Writes that failed stay failed.
func (w *WriteBehind) Reset() {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.state.CompareAndSwap(int32(StateFailed), int32(StateIdle)) {
		Logger.Infof("write-behind writer reset after failure: %v", w.err)
		w.err = nil
	}
}

// Close waits for the writer to apply everything queued and stops the queues.
// Writes after Close return ErrClosed.
func (w *WriteBehind) Close() {
	w.lifecycle.Lock()
	if w.closed {
		w.lifecycle.Unlock()
		return
	}
	w.closed = true
	w.lifecycle.Unlock()

	w.writers.Wait()
	for _, q := range w.queues {
		q.Close()
	}
}

// NewSession creates a session with its own completion lock.
func (w *WriteBehind) NewSession() Session {
	return &session{w: w, lock: &CompletionLock{}}
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

func (w *WriteBehind) submit(e *entry) error {
	w.lifecycle.RLock()
	defer w.lifecycle.RUnlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.Err(); err != nil {
		return err
	}

	e.lock.add()
	w.buffers[e.scope].Store(e.value.Key.Canonical(), e)
	w.queues[e.scope].Push(e)

	if w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		w.writers.Add(1)
		go w.run()
	} else if w.State() == StateFailed {
		// the writer failed while this entry was queued
		w.failQueued()
	}
	return nil
}

func (w *WriteBehind) run() {
	defer w.writers.Done()
	for {
		if !w.drain() {
			return
		}
		w.state.Store(int32(StateIdle))
		// an entry pushed while going idle must not be stranded
		if w.queues[cache.Private].Len() == 0 && w.queues[cache.Shared].Len() == 0 {
			return
		}
		if !w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
			return
		}
	}
}

// drain writes batches until both queues are empty. It returns false if the
// writer failed.
func (w *WriteBehind) drain() bool {
	for {
		shared := w.queues[cache.Shared].Drain(w.maxBatch)
		private := w.queues[cache.Private].Drain(w.maxBatch)
		if len(shared) == 0 && len(private) == 0 {
			return true
		}
		if err := w.write(cache.Shared, shared); err != nil {
			w.fail(err, shared, private)
			return false
		}
		if err := w.write(cache.Private, private); err != nil {
			w.fail(err, private)
			return false
		}
	}
}

func (w *WriteBehind) write(scope cache.Scope, batch []*entry) error {
	var err error
	switch len(batch) {
	case 0:
		return nil
	case 1:
		if scope == cache.Shared {
			err = w.underlying.PutShared(batch[0].value)
		} else {
			err = w.underlying.PutPrivate(batch[0].value)
		}
	default:
		values := make([]cache.Value, len(batch))
		for i, e := range batch {
			values[i] = e.value
		}
		err = w.underlying.PutMany(values, cache.Always(scope))
	}
	if err != nil {
		return err
	}

	batchesWritten.Inc()
	entriesWritten.Add(len(batch))
	for _, e := range batch {
		w.unbuffer(e)
		e.lock.done(nil)
	}
	return nil
}

// fail moves the writer into the failed state and fails the given batches
// and everything still queued.
func (w *WriteBehind) fail(cause error, batches ...[]*entry) {
	err := fmt.Errorf("%w: %w", ErrWriterFailed, cause)
	w.errMu.Lock()
	w.err = err
	w.state.Store(int32(StateFailed))
	w.errMu.Unlock()
	writerFailures.Inc()
	Logger.Errorf("write-behind writer failed: %v", cause)

	for _, batch := range batches {
		for _, e := range batch {
			w.unbuffer(e)
			e.lock.done(err)
		}
	}
	w.failQueued()
}

func (w *WriteBehind) failQueued() {
	err := w.Err()
	if err == nil {
		return
	}
	w.drainMu.Lock()
	defer w.drainMu.Unlock()
	for _, q := range w.queues {
		for _, e := range q.Drain(0) {
			w.unbuffer(e)
			e.lock.done(err)
		}
	}
}

// unbuffer removes e from the read buffer unless a newer write replaced it
func (w *WriteBehind) unbuffer(e *entry) {
	w.buffers[e.scope].Compute(e.value.Key.Canonical(), func(old *entry, loaded bool) (*entry, bool) {
		return old, !loaded || old == e
	})
}

func (w *WriteBehind) buffered(k key.ValueKey, scope cache.Scope) (any, bool) {
	e, ok := w.buffers[scope].Load(k.Canonical())
	if !ok {
		return nil, false
	}
	return e.value.Value, true
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

type session struct {
	w    *WriteBehind
	lock *CompletionLock
}

func (s *session) put(scope cache.Scope, v cache.Value) error {
	return s.w.submit(&entry{value: v, scope: scope, lock: s.lock})
}

func (s *session) Get(k key.ValueKey) (any, bool, error) {
	for _, scope := range []cache.Scope{cache.Private, cache.Shared} {
		if v, ok := s.w.buffered(k, scope); ok {
			return v, true, nil
		}
	}
	return s.w.underlying.Get(k)
}

func (s *session) GetScoped(k key.ValueKey, scope cache.Scope) (any, bool, error) {
	if v, ok := s.w.buffered(k, scope); ok {
		return v, true, nil
	}
	return s.w.underlying.GetScoped(k, scope)
}

func (s *session) GetMany(keys []key.ValueKey, hint cache.Hint) ([]cache.Result, error) {
	results := make([]cache.Result, len(keys))
	var (
		rest    []key.ValueKey
		restIdx []int
	)
	for i, k := range keys {
		results[i].Key = k
		scopes := []cache.Scope{cache.Private, cache.Shared}
		if hint != nil {
			scopes = []cache.Scope{hint(k)}
		}
		for _, scope := range scopes {
			if v, ok := s.w.buffered(k, scope); ok {
				results[i].Value, results[i].Found = v, true
				break
			}
		}
		if !results[i].Found {
			rest = append(rest, k)
			restIdx = append(restIdx, i)
		}
	}
	if len(rest) == 0 {
		return results, nil
	}

	loaded, err := s.w.underlying.GetMany(rest, hint)
	if err != nil {
		return nil, err
	}
	for j, r := range loaded {
		results[restIdx[j]] = r
	}
	return results, nil
}

func (s *session) Put(v cache.Value, hint cache.Hint) error {
	if hint == nil {
		return s.put(cache.Private, v)
	}
	return s.put(hint(v.Key), v)
}

func (s *session) PutShared(v cache.Value) error {
	return s.put(cache.Shared, v)
}

func (s *session) PutPrivate(v cache.Value) error {
	return s.put(cache.Private, v)
}

func (s *session) PutMany(values []cache.Value, hint cache.Hint) error {
	for _, v := range values {
		if err := s.Put(v, hint); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) EstimateValueSize(v cache.Value) (int, bool) {
	return s.w.underlying.EstimateValueSize(v)
}

func (s *session) Flush() error {
	return <-s.AsyncFlush()
}

func (s *session) AsyncFlush() <-chan error {
	if err := s.w.Err(); err != nil && s.lock.Pending() == 0 {
		<-s.lock.wait() // consumes a failure recorded by the lock
		return done(err)
	}
	return s.lock.wait()
}
