package util

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBasicOperations tests basic push and consume functionality
func TestBasicOperations(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.True(t, q.Push(&i), "failed to push item %d", i)
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			assert.Equal(t, i, *val)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	// Queue should be empty now
	select {
	case val := <-q.Recv():
		t.Errorf("Expected empty queue, got %v", val)
	case <-time.After(10 * time.Millisecond):
	}

	require.False(t, q.Push(nil), "nil values are rejected")
}

// TestConcurrentProducers verifies the queue works correctly with multiple producers
func TestConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	received := make(map[int]bool, totalItems)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(received) < totalItems {
			select {
			case val := <-q.Recv():
				if received[*val] {
					t.Errorf("Duplicate item received: %v", *val)
				}
				received[*val] = true
			case <-time.After(2 * time.Second):
				t.Errorf("Timeout waiting for items, received %d of %d", len(received), totalItems)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				val := base + i
				if !q.Push(&val) {
					t.Errorf("Producer %d failed to push item %d", producerID, i)
				}
				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Timeout waiting for consumer to finish")
	}
	assert.Len(t, received, totalItems)
}

// TestCloseQueue verifies closing behavior
func TestCloseQueue(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	for i := 0; i < 5; i++ {
		q.Push(&i)
	}
	q.Close()

	val := 100
	assert.False(t, q.Push(&val), "push after close must fail")
	assert.True(t, q.IsClosed())

	// existing items are still delivered
	for i := 0; i < 5; i++ {
		select {
		case val := <-q.Recv():
			assert.Equal(t, i, *val)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("Timeout waiting for item %d after close", i)
		}
	}

	_, ok := <-q.Recv()
	assert.False(t, ok, "channel should be closed after reading all items")

	select {
	case <-q.Done():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Done should be closed once the queue is closed and empty")
	}
}

// TestOrderingSingleProducer tests that a single producer's items stay in push order
func TestOrderingSingleProducer(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	const itemCount = 10000
	go func() {
		for i := 0; i < itemCount; i++ {
			q.Push(&i)
		}
	}()

	prev := -1
	for i := 0; i < itemCount; i++ {
		select {
		case val := <-q.Recv():
			require.Greater(t, *val, prev)
			prev = *val
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}
}

// TestDrain tests non-blocking batch receive
func TestDrain(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	assert.Empty(t, q.Drain(0), "draining an empty queue returns immediately")

	for i := 0; i < 20; i++ {
		q.Push(&i)
	}

	// items are handed over by a goroutine, so collect until all arrived
	var got []int
	deadline := time.Now().Add(time.Second)
	for len(got) < 20 && time.Now().Before(deadline) {
		for _, v := range q.Drain(7) {
			got = append(got, *v)
		}
	}
	require.Len(t, got, 20)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
}

// TestLen tests the pending item counter
func TestLen(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 3; i++ {
		q.Push(&i)
	}
	assert.Equal(t, 3, q.Len())

	<-q.Recv()
	// the counter is decremented right after the hand over
	assert.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)
}

// BenchmarkSingleProducer benchmarks the queue with a single producer
func BenchmarkSingleProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(&i)
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			v := i
			q.Push(&v)
			i++
		}
	})
}
