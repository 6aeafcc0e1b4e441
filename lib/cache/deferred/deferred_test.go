package deferred

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/ValentinKolb/dCache/lib/store/mstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vk(name string) key.ValueKey {
	return key.New(name, nil, nil)
}

// fakeCache is an in-memory cache.Cache whose writes can be blocked or failed
type fakeCache struct {
	mu       sync.Mutex
	values   map[cache.Scope]map[string]any
	putCalls []int // size of every write call
	gets     int
	gate     chan struct{} // writes and gets wait for it if set
	fail     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[cache.Scope]map[string]any{
		cache.Private: {},
		cache.Shared:  {},
	}}
}

func (f *fakeCache) wait() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeCache) block() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.gate = nil
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeCache) write(s cache.Scope, values ...cache.Value) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls = append(f.putCalls, len(values))
	if f.fail != nil {
		return f.fail
	}
	for _, v := range values {
		f.values[s][v.Key.Canonical()] = v.Value
	}
	return nil
}

func (f *fakeCache) count(s cache.Scope) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.values[s])
}

func (f *fakeCache) Get(k key.ValueKey) (any, bool, error) {
	if v, ok, _ := f.GetScoped(k, cache.Private); ok {
		return v, true, nil
	}
	return f.GetScoped(k, cache.Shared)
}

func (f *fakeCache) GetScoped(k key.ValueKey, s cache.Scope) (any, bool, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.values[s][k.Canonical()]
	return v, ok, nil
}

func (f *fakeCache) GetMany(keys []key.ValueKey, hint cache.Hint) ([]cache.Result, error) {
	out := make([]cache.Result, len(keys))
	for i, k := range keys {
		var (
			v  any
			ok bool
		)
		if hint == nil {
			v, ok, _ = f.Get(k)
		} else {
			v, ok, _ = f.GetScoped(k, hint(k))
		}
		out[i] = cache.Result{Key: k, Value: v, Found: ok}
	}
	return out, nil
}

func (f *fakeCache) Put(v cache.Value, hint cache.Hint) error { return f.write(hint(v.Key), v) }
func (f *fakeCache) PutShared(v cache.Value) error            { return f.write(cache.Shared, v) }
func (f *fakeCache) PutPrivate(v cache.Value) error           { return f.write(cache.Private, v) }
func (f *fakeCache) PutMany(values []cache.Value, hint cache.Hint) error {
	return f.write(hint(values[0].Key), values...)
}
func (f *fakeCache) EstimateValueSize(cache.Value) (int, bool) { return 0, false }

// --------------------------------------------------------------------------
// Write-Behind
// --------------------------------------------------------------------------

func TestWriteBehindCompleteness(t *testing.T) {
	// two sessions put 100 entries each, then both flush
	ids := identifier.NewMemoryIdentifierMap()
	private, shared := mstore.NewMemoryStore(), mstore.NewMemoryStore()
	vc, err := cache.New(ids, private, shared, cache.Options{})
	require.NoError(t, err)
	defer vc.Close()
	wb := NewWriteBehind(vc, 16)
	defer wb.Close()

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			s := wb.NewSession()
			for i := 0; i < 100; i++ {
				k := vk(fmt.Sprintf("%d-%d", g, i))
				assert.NoError(t, s.PutShared(cache.Value{Key: k, Value: i}))
			}
			assert.NoError(t, s.Flush())
		}(g)
	}
	wg.Wait()

	all := make([]uint64, 0, 200)
	for g := 0; g < 2; g++ {
		for i := 0; i < 100; i++ {
			id, err := ids.Identify(vk(fmt.Sprintf("%d-%d", g, i)))
			require.NoError(t, err)
			all = append(all, id)
		}
	}
	stored, err := shared.GetMany(all)
	require.NoError(t, err)
	assert.Len(t, stored, 200, "the backing store holds every entry after flush")

	v, ok, err := vc.Get(vk("1-42"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 42, v)
}

func TestWriteBehindVisibleBeforePersisted(t *testing.T) {
	f := newFakeCache()
	wb := NewWriteBehind(f, 0)
	defer wb.Close()
	release := f.block()

	s := wb.NewSession()
	require.NoError(t, s.PutPrivate(cache.Value{Key: vk("a"), Value: "1"}))
	require.NoError(t, s.PutShared(cache.Value{Key: vk("b"), Value: "2"}))

	v, ok, err := s.Get(vk("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	// buffered values are visible to other sessions too
	v, ok, err = wb.NewSession().GetScoped(vk("b"), cache.Shared)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	flushed := s.AsyncFlush()
	select {
	case <-flushed:
		t.Fatal("flush returned while writes were pending")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	require.NoError(t, <-flushed)
	assert.Equal(t, 1, f.count(cache.Private))
	assert.Equal(t, 1, f.count(cache.Shared))
}

func TestWriteBehindBatches(t *testing.T) {
	f := newFakeCache()
	wb := NewWriteBehind(f, 0)
	defer wb.Close()
	s := wb.NewSession()

	release := f.block()
	require.NoError(t, s.PutShared(cache.Value{Key: vk("first"), Value: 0}))
	require.Eventually(t, func() bool { return wb.queues[cache.Shared].Len() == 0 }, time.Second, time.Millisecond)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.PutShared(cache.Value{Key: vk(fmt.Sprint(i)), Value: i}))
	}
	release()
	require.NoError(t, s.Flush())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []int{1, 10}, f.putCalls, "entries queued while writing are written as one batch")
	assert.Eventually(t, func() bool { return wb.State() == StateIdle }, time.Second, time.Millisecond)
}

func TestWriteBehindFailure(t *testing.T) {
	f := newFakeCache()
	boom := errors.New("disk full")
	f.fail = boom
	wb := NewWriteBehind(f, 0)
	defer wb.Close()
	s := wb.NewSession()

	require.NoError(t, s.PutPrivate(cache.Value{Key: vk("a"), Value: 1}))
	err := s.Flush()
	require.ErrorIs(t, err, ErrWriterFailed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, wb.State())

	// failed writes are not visible
	_, ok, _ := s.GetScoped(vk("a"), cache.Private)
	assert.False(t, ok)

	// the failure is terminal until reset
	err = s.PutPrivate(cache.Value{Key: vk("b"), Value: 2})
	assert.ErrorIs(t, err, ErrWriterFailed)
	assert.ErrorIs(t, wb.NewSession().Flush(), ErrWriterFailed)

	f.mu.Lock()
	f.fail = nil
	f.mu.Unlock()
	wb.Reset()
	assert.Equal(t, StateIdle, wb.State())
	require.NoError(t, s.PutPrivate(cache.Value{Key: vk("b"), Value: 2}))
	require.NoError(t, s.Flush())
	assert.Equal(t, 1, f.count(cache.Private))
}

func TestFlushWithoutWrites(t *testing.T) {
	f := newFakeCache()
	wb := NewWriteBehind(f, 0)
	defer wb.Close()

	// another session's pending write does not delay this flush
	release := f.block()
	defer release()
	require.NoError(t, wb.NewSession().PutShared(cache.Value{Key: vk("a"), Value: 1}))
	assert.NoError(t, wb.NewSession().Flush())
}

func TestWriteBehindClosed(t *testing.T) {
	wb := NewWriteBehind(newFakeCache(), 0)
	wb.Close()
	wb.Close()
	assert.ErrorIs(t, wb.NewSession().PutShared(cache.Value{Key: vk("a"), Value: 1}), ErrClosed)
}

// --------------------------------------------------------------------------
// Direct Write
// --------------------------------------------------------------------------

func TestDirectWrite(t *testing.T) {
	f := newFakeCache()
	s := NewDirectWrite(f).NewSession()

	require.NoError(t, s.Put(cache.Value{Key: vk("a"), Value: 1}, cache.Always(cache.Shared)))
	assert.Equal(t, 1, f.count(cache.Shared), "applied before put returns")
	assert.NoError(t, s.Flush())
	assert.NoError(t, <-s.AsyncFlush())
}

// --------------------------------------------------------------------------
// Read Coalescing
// --------------------------------------------------------------------------

func TestReadCoalescing(t *testing.T) {
	f := newFakeCache()
	require.NoError(t, f.PutShared(cache.Value{Key: vk("a"), Value: "v1"}))
	rc, err := NewReadCoalescing(f, 128)
	require.NoError(t, err)

	release := f.block()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok, err := rc.GetScoped(vk("a"), cache.Shared)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	f.mu.Lock()
	gets := f.gets
	f.mu.Unlock()
	assert.Equal(t, 1, gets, "concurrent reads share one fetch")

	// buffered
	_, _, err = rc.GetScoped(vk("a"), cache.Shared)
	require.NoError(t, err)
	results, err := rc.GetMany([]key.ValueKey{vk("a")}, cache.Always(cache.Shared))
	require.NoError(t, err)
	assert.Equal(t, "v1", results[0].Value)
	f.mu.Lock()
	assert.Equal(t, 1, f.gets)
	f.mu.Unlock()

	// writes invalidate
	require.NoError(t, rc.PutShared(cache.Value{Key: vk("a"), Value: "v2"}))
	v, ok, err := rc.GetScoped(vk("a"), cache.Shared)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestReadCoalescingAbsentIsNotBuffered(t *testing.T) {
	f := newFakeCache()
	rc, err := NewReadCoalescing(f, 128)
	require.NoError(t, err)

	_, ok, err := rc.Get(vk("a"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.PutPrivate(cache.Value{Key: vk("a"), Value: 1}))
	v, ok, err := rc.Get(vk("a"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
