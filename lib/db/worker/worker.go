package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("worker")

var (
	// ErrTransactionAborted is returned to every request of a batch that was
	// rolled back because another request of the same batch failed. The
	// failing request itself receives its own error.
	ErrTransactionAborted = errors.New("worker: transaction aborted")

	// ErrCommitFailed is returned to every request of a batch whose commit
	// was rejected by the engine.
	ErrCommitFailed = errors.New("worker: commit failed")

	// ErrStopped is returned for requests submitted after the worker stopped.
	ErrStopped = errors.New("worker: stopped")
)

// defaultMaxBatch bounds the number of requests executed in one transaction
const defaultMaxBatch = 1024

// --------------------------------------------------------------------------
// Lifecycle State
// --------------------------------------------------------------------------

type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarted:
		return "Started"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// Txn is the transaction handed to a request. It is only valid during the
// request and must not be retained.
type Txn struct {
	db.Txn
	aborts []func()
}

// OnAbort registers fn to run if the transaction is rolled back (because any
// request of the batch failed or the commit was rejected). Hooks run on the
// worker goroutine in reverse registration order.
func (t *Txn) OnAbort(fn func()) {
	t.aborts = append(t.aborts, fn)
}

// Request is a unit of work executed inside a worker transaction.
// Returning an error rolls back the whole batch.
type Request func(txn *Txn) error

type request struct {
	fn   Request
	done chan error
	stop bool
}

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

// Queue is a request queue that can be shared by several workers. Every
// request is executed by exactly one of the attached workers.
type Queue struct {
	mpsc *util.LockFreeMPSC[request]

	// lifecycle guards state against concurrent submits, so that every
	// accepted request is queued before the stop request
	lifecycle sync.RWMutex
	state     State
	running   atomic.Int32
	workers   sync.WaitGroup
	stopOnce  sync.Once
}

// NewQueue creates an empty queue without workers.
func NewQueue() *Queue {
	return &Queue{mpsc: util.NewLockFreeMPSC[request]()}
}

// attach registers a new worker goroutine
func (q *Queue) attach() error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()
	if q.state == StateStopped {
		return ErrStopped
	}
	q.state = StateStarted
	q.running.Add(1)
	q.workers.Add(1)
	return nil
}

// submit queues fn and waits for its result
func (q *Queue) submit(fn Request) error {
	r := &request{fn: fn, done: make(chan error, 1)}

	q.lifecycle.RLock()
	if q.state == StateStopped || !q.mpsc.Push(r) {
		q.lifecycle.RUnlock()
		return ErrStopped
	}
	q.lifecycle.RUnlock()

	return <-r.done
}

// Stop rejects new requests, lets the workers finish everything already
// queued and waits until all attached workers terminated.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.lifecycle.Lock()
		q.state = StateStopped
		if q.running.Load() > 0 {
			q.mpsc.Push(&request{stop: true})
		} else {
			q.mpsc.Close()
		}
		q.lifecycle.Unlock()
	})
	q.workers.Wait()
}

// passStop is called by a worker that received the stop request. The request
// is put back once for every sibling that is still running; the last worker
// closes the queue.
func (q *Queue) passStop(stop *request) {
	if q.running.Add(-1) > 0 {
		q.mpsc.Push(stop)
		return
	}
	q.mpsc.Close()
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// Worker owns an engine and executes queued requests on a single goroutine.
// No other goroutine ever touches the engine: the engine handle is not
// exported and all access goes through Submit.
type Worker struct {
	name     string
	engine   db.Engine
	queue    *Queue
	maxBatch int

	state   atomic.Int32
	startMu sync.Mutex
	done    chan struct{}

	metrics *workerMetrics
}

// Option configures a Worker.
type Option func(w *Worker)

// WithQueue attaches the worker to a (possibly shared) queue.
func WithQueue(q *Queue) Option {
	return func(w *Worker) { w.queue = q }
}

// WithMaxBatch limits the number of requests per transaction.
func WithMaxBatch(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxBatch = n
		}
	}
}

// WithName sets the name used in logs and metrics.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

// New creates a worker for engine. The worker starts lazily on the first
// Submit or explicitly with Start. The worker takes ownership of the engine
// and closes it when it stops.
func New(engine db.Engine, opts ...Option) *Worker {
	w := &Worker{
		name:     "store",
		engine:   engine,
		maxBatch: defaultMaxBatch,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.queue == nil {
		w.queue = NewQueue()
	}
	w.metrics = newWorkerMetrics()
	return w
}

// State returns the lifecycle state of the worker.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Start starts the worker goroutine. Calling Start on a started worker is a
// no-op; starting a stopped worker returns ErrStopped.
func (w *Worker) Start() error {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	switch w.State() {
	case StateStarted:
		return nil
	case StateStopped:
		return ErrStopped
	}

	if err := w.queue.attach(); err != nil {
		w.state.Store(int32(StateStopped))
		close(w.done)
		return err
	}
	w.state.Store(int32(StateStarted))
	go w.run()
	Logger.Debugf("worker %s started", w.name)
	return nil
}

// ensureStarted starts the worker on first use
func (w *Worker) ensureStarted() error {
	if w.State() == StateStarted {
		return nil
	}
	return w.Start()
}

// Submit executes fn inside a worker transaction and blocks until the
// transaction committed or aborted. The returned error is fn's own error,
// an error matching ErrTransactionAborted or ErrCommitFailed, or ErrStopped.
//
// There is no way to cancel a submitted request: the caller can only wait.
func (w *Worker) Submit(fn Request) error {
	if err := w.ensureStarted(); err != nil {
		return err
	}
	return w.queue.submit(fn)
}

// Stop stops the worker (and every sibling sharing its queue) after all
// queued requests were executed. Stop is idempotent.
func (w *Worker) Stop() error {
	w.startMu.Lock()
	if w.State() == StateCreated {
		// never started, nothing to drain
		w.state.Store(int32(StateStopped))
		close(w.done)
		w.startMu.Unlock()
		return w.engine.Close()
	}
	w.startMu.Unlock()

	w.queue.Stop()
	<-w.done
	return nil
}

// run is the worker loop. It blocks for one request, then opportunistically
// drains already queued requests into the same transaction.
func (w *Worker) run() {
	defer func() {
		if err := w.engine.Close(); err != nil {
			Logger.Errorf("worker %s: closing engine failed: %v", w.name, err)
		}
		w.state.Store(int32(StateStopped))
		close(w.done)
		w.queue.workers.Done()
		Logger.Debugf("worker %s stopped", w.name)
	}()

	for {
		first, ok := <-w.queue.mpsc.Recv()
		if !ok {
			return
		}
		if first.stop {
			w.queue.passStop(first)
			return
		}

		batch := []*request{first}
		var stop *request
		var queued []*request
		if w.maxBatch > 1 {
			queued = w.queue.mpsc.Drain(w.maxBatch - 1)
		}
		for _, r := range queued {
			switch {
			case stop != nil:
				// nothing is accepted after the stop request
				r.done <- ErrStopped
			case r.stop:
				stop = r
			default:
				batch = append(batch, r)
			}
		}

		w.execute(batch)

		if stop != nil {
			w.queue.passStop(stop)
			return
		}
	}
}

// execute runs a batch inside one transaction and signals every request.
func (w *Worker) execute(batch []*request) {
	start := time.Now()
	defer w.metrics.txnTimer.UpdateSince(start)
	w.metrics.batchSize.Update(int64(len(batch)))

	txn, err := w.engine.Begin()
	if err != nil {
		Logger.Errorf("worker %s: begin failed: %v", w.name, err)
		w.metrics.aborts.Inc(1)
		for _, r := range batch {
			r.done <- fmt.Errorf("%w: %w", ErrTransactionAborted, err)
		}
		return
	}

	wt := &Txn{Txn: txn}
	for i, r := range batch {
		if err := call(r.fn, wt); err != nil {
			txn.Abort()
			wt.rollback()
			w.metrics.aborts.Inc(1)
			Logger.Warningf("worker %s: transaction with %d request(s) aborted: %v", w.name, len(batch), err)

			r.done <- err
			for j, other := range batch {
				if j != i {
					other.done <- fmt.Errorf("%w: %w", ErrTransactionAborted, err)
				}
			}
			return
		}
	}

	if err := txn.Commit(); err != nil {
		wt.rollback()
		w.metrics.commitFailures.Inc(1)
		Logger.Errorf("worker %s: commit of %d request(s) failed: %v", w.name, len(batch), err)
		for _, r := range batch {
			r.done <- fmt.Errorf("%w: %w", ErrCommitFailed, err)
		}
		return
	}

	w.metrics.commits.Inc(1)
	for _, r := range batch {
		r.done <- nil
	}
}

// call runs a request and turns a panic into an error so a faulty request
// can never take down the worker goroutine
func call(fn Request, txn *Txn) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker: request panicked: %v", p)
		}
	}()
	return fn(txn)
}

func (t *Txn) rollback() {
	for i := len(t.aborts) - 1; i >= 0; i-- {
		t.aborts[i]()
	}
	t.aborts = nil
}
