// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) queue implementation.
//
// Features and Guarantees:
//
//   - Lock-Free: producers only use atomic operations, even when waking the consumer
//   - Unbounded Size: the queue can grow to any size as needed, limited only by available memory
//   - Small Footprint: minimal memory overhead per item (two pointers per item)
//   - Thread-Safe writes: Allows any number of goroutines to safely Push() concurrently
//   - Single Consumer: Designed for a single goroutine to consume values (via Recv() or Drain()).
//   - No Strict FIFO Guarantee: Under concurrent Push() operations, the exact ordering of items
//     is determined by which producer completes its operation first, not by which producer
//     started first. Items pushed by one goroutine are delivered in push order.
package util

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations without locks. A forwarding goroutine
// moves items from the list to the Recv() channel.
type LockFreeMPSC[T interface{}] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	out    chan *T
	done   chan struct{}
	closed atomic.Bool
	size   atomic.Int64

	// notify holds at most one wake-up token. A token left behind by a
	// producer is consumed on the next wait, so a push racing with the
	// consumer going to sleep is never lost.
	notify chan struct{}
}

// NewLockFreeMPSC creates a new lock-free multi-producer single-consumer queue
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out:    make(chan *T),
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}

	// Set the initial head and tail to the sentinel node
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already helped, tail is updated either way
				q.tail.CompareAndSwap(tailNode, newNode)
				q.size.Add(1)
				q.wake()
				return true
			}
		} else {
			// help update the tail pointer if another producer has already appended a node but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff: spin while contention is low, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake leaves a wake-up token for the consumer (non-blocking)
func (q *LockFreeMPSC[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes the first item of the list, or returns nil if the list is empty.
// Only called by the forwarding goroutine.
func (q *LockFreeMPSC[T]) pop() *T {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}
	value := next.value
	// move head pointer (the old sentinel becomes garbage)
	q.head.Store(next)
	// help go gc
	next.value = nil
	return value
}

// consume continuously sends items from the linked list to the output channel
func (q *LockFreeMPSC[T]) consume() {
	defer close(q.done)
	defer close(q.out)

	for {
		if value := q.pop(); value != nil {
			q.out <- value
			q.size.Add(-1)
			continue
		}

		// Exit if closed and no more items
		if q.closed.Load() {
			if value := q.pop(); value != nil {
				// a push completed between the pop and the closed check
				q.out <- value
				q.size.Add(-1)
				continue
			}
			return
		}

		<-q.notify
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// This allows the queue to be used with the '<-' operator in select statements.
// The channel is closed after Close once every queued item was delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Drain receives up to max items without waiting for producers (max <= 0
// means no limit). Every item whose Push completed before the call is
// returned, unless max is reached first.
func (q *LockFreeMPSC[T]) Drain(max int) []*T {
	var items []*T
	for (max <= 0 || len(items) < max) && q.size.Load() > 0 {
		select {
		case v, ok := <-q.out:
			if !ok {
				return items
			}
			items = append(items, v)
		default:
			// the item is still on its way through the forwarding goroutine
			runtime.Gosched()
		}
	}
	return items
}

// Close closes the queue, preventing further writes.
// Any items already in the queue will still be delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// Done returns a channel that is closed once the queue is closed and empty.
func (q *LockFreeMPSC[T]) Done() <-chan struct{} {
	return q.done
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items pushed but not yet received.
// The value is approximate while producers or the consumer are active.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.size.Load())
}
