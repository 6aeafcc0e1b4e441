package deferred

import (
	"sync"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/key"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ReadCoalescing de-duplicates reads: concurrent reads of the same key share
// one fetch, and recently read values are kept in a bounded LRU buffer.
// Writes pass through and invalidate the buffered entries of their key.
type ReadCoalescing struct {
	underlying cache.Cache
	group      singleflight.Group
	buffer     *lru.Cache[string, any]

	// epoch counts invalidations. A fetch only fills the buffer if no write
	// happened since it started, so a slow read never buffers a stale value.
	mu    sync.Mutex
	epoch uint64
}

// NewReadCoalescing wraps underlying with a buffer of size entries.
func NewReadCoalescing(underlying cache.Cache, size int) (*ReadCoalescing, error) {
	buffer, err := lru.New[string, any](size)
	if err != nil {
		return nil, err
	}
	return &ReadCoalescing{underlying: underlying, buffer: buffer}, nil
}

// buffer keys: "*" for unscoped reads, the scope name otherwise
func bufferKey(k key.ValueKey, scope string) string {
	return scope + "|" + k.Canonical()
}

type fetched struct {
	value any
	found bool
}

func (r *ReadCoalescing) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *ReadCoalescing) remember(bk string, since uint64, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch == since {
		r.buffer.Add(bk, v)
	}
}

func (r *ReadCoalescing) invalidate(k key.ValueKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	for _, scope := range []string{"*", cache.Private.String(), cache.Shared.String()} {
		bk := bufferKey(k, scope)
		r.buffer.Remove(bk)
		// later reads must not join a fetch that started before the write
		r.group.Forget(bk)
	}
}

func (r *ReadCoalescing) fetch(bk string, get func() (any, bool, error)) (any, bool, error) {
	if v, ok := r.buffer.Get(bk); ok {
		return v, true, nil
	}
	res, err, _ := r.group.Do(bk, func() (interface{}, error) {
		since := r.currentEpoch()
		v, ok, err := get()
		if err != nil {
			return nil, err
		}
		if ok {
			r.remember(bk, since, v)
		}
		return fetched{value: v, found: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	f := res.(fetched)
	return f.value, f.found, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.Cache)
// --------------------------------------------------------------------------

func (r *ReadCoalescing) Get(k key.ValueKey) (any, bool, error) {
	return r.fetch(bufferKey(k, "*"), func() (any, bool, error) {
		return r.underlying.Get(k)
	})
}

func (r *ReadCoalescing) GetScoped(k key.ValueKey, scope cache.Scope) (any, bool, error) {
	return r.fetch(bufferKey(k, scope.String()), func() (any, bool, error) {
		return r.underlying.GetScoped(k, scope)
	})
}

// GetMany serves buffered values and fetches the rest with one bulk read.
// Bulk reads are not coalesced with each other.
func (r *ReadCoalescing) GetMany(keys []key.ValueKey, hint cache.Hint) ([]cache.Result, error) {
	scopeOf := func(k key.ValueKey) string {
		if hint == nil {
			return "*"
		}
		return hint(k).String()
	}

	results := make([]cache.Result, len(keys))
	var (
		rest    []key.ValueKey
		restIdx []int
	)
	for i, k := range keys {
		if v, ok := r.buffer.Get(bufferKey(k, scopeOf(k))); ok {
			results[i] = cache.Result{Key: k, Value: v, Found: true}
			continue
		}
		rest = append(rest, k)
		restIdx = append(restIdx, i)
	}
	if len(rest) == 0 {
		return results, nil
	}

	since := r.currentEpoch()
	loaded, err := r.underlying.GetMany(rest, hint)
	if err != nil {
		return nil, err
	}
	for j, res := range loaded {
		results[restIdx[j]] = res
		if res.Found {
			r.remember(bufferKey(res.Key, scopeOf(res.Key)), since, res.Value)
		}
	}
	return results, nil
}

func (r *ReadCoalescing) Put(v cache.Value, hint cache.Hint) error {
	defer r.invalidate(v.Key)
	return r.underlying.Put(v, hint)
}

func (r *ReadCoalescing) PutShared(v cache.Value) error {
	defer r.invalidate(v.Key)
	return r.underlying.PutShared(v)
}

func (r *ReadCoalescing) PutPrivate(v cache.Value) error {
	defer r.invalidate(v.Key)
	return r.underlying.PutPrivate(v)
}

func (r *ReadCoalescing) PutMany(values []cache.Value, hint cache.Hint) error {
	defer func() {
		for _, v := range values {
			r.invalidate(v.Key)
		}
	}()
	return r.underlying.PutMany(values, hint)
}

func (r *ReadCoalescing) EstimateValueSize(v cache.Value) (int, bool) {
	return r.underlying.EstimateValueSize(v)
}
