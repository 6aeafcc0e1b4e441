package identifier

import (
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheOptions bounds the caching decorator.
type CacheOptions struct {
	// ForwardCost is the maximum total cost (bytes of canonical encodings)
	// kept in the key -> identifier cache.
	ForwardCost int64
	// ReverseSize is the number of identifier -> key entries kept.
	ReverseSize int
}

// DefaultCacheOptions returns the default cache bounds.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		ForwardCost: 64 << 20, // 64 MB
		ReverseSize: 100_000,
	}
}

// cachingImpl puts bounded caches in front of another IdentifierMap. Since
// identifiers never change once assigned, cached entries never go stale;
// eviction only costs a round trip to the underlying map.
type cachingImpl struct {
	underlying IdentifierMap
	forward    *ristretto.Cache
	reverse    *lru.Cache[uint64, key.ValueKey]
}

// NewCachingIdentifierMap wraps underlying with a forward and a reverse cache.
func NewCachingIdentifierMap(underlying IdentifierMap, opts CacheOptions) (IdentifierMap, error) {
	if opts.ForwardCost <= 0 || opts.ReverseSize <= 0 {
		opts = DefaultCacheOptions()
	}
	forward, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.ForwardCost / 10, // ~10x the expected number of entries of ~100 bytes
		MaxCost:     opts.ForwardCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	reverse, err := lru.New[uint64, key.ValueKey](opts.ReverseSize)
	if err != nil {
		return nil, err
	}
	return &cachingImpl{underlying: underlying, forward: forward, reverse: reverse}, nil
}

func (c *cachingImpl) remember(k key.ValueKey, id uint64) {
	c.forward.Set(k.Canonical(), id, int64(len(k.Canonical())))
	c.reverse.Add(id, k)
}

func (c *cachingImpl) lookup(k key.ValueKey) (uint64, bool) {
	v, ok := c.forward.Get(k.Canonical())
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IdentifierMap)
// --------------------------------------------------------------------------

func (c *cachingImpl) Identify(k key.ValueKey) (uint64, error) {
	if id, ok := c.lookup(k); ok {
		return id, nil
	}
	id, err := c.underlying.Identify(k)
	if err != nil {
		return 0, err
	}
	c.remember(k, id)
	return id, nil
}

func (c *cachingImpl) IdentifyMany(keys []key.ValueKey) ([]uint64, error) {
	ids := make([]uint64, len(keys))
	var (
		missing    []key.ValueKey
		missingIdx []int
	)
	for i, k := range keys {
		if id, ok := c.lookup(k); ok {
			ids[i] = id
			continue
		}
		missing = append(missing, k)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return ids, nil
	}

	loaded, err := c.underlying.IdentifyMany(missing)
	if err != nil {
		return nil, err
	}
	for j, id := range loaded {
		ids[missingIdx[j]] = id
		c.remember(missing[j], id)
	}
	return ids, nil
}

func (c *cachingImpl) Resolve(id uint64) (key.ValueKey, bool, error) {
	if k, ok := c.reverse.Get(id); ok {
		return k, true, nil
	}
	k, ok, err := c.underlying.Resolve(id)
	if err != nil || !ok {
		return k, ok, err
	}
	c.remember(k, id)
	return k, true, nil
}

func (c *cachingImpl) ResolveMany(ids []uint64) (map[uint64]key.ValueKey, error) {
	out := make(map[uint64]key.ValueKey, len(ids))
	var missing []uint64
	for _, id := range ids {
		if k, ok := c.reverse.Get(id); ok {
			out[id] = k
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.underlying.ResolveMany(missing)
	if err != nil {
		return nil, err
	}
	for id, k := range loaded {
		out[id] = k
		c.remember(k, id)
	}
	return out, nil
}
