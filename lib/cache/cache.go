package cache

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dCache/lib/codec"
	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/dgraph-io/ristretto"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("cache")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Scope selects one of the two stores of a cache.
type Scope uint8

const (
	// Private entries are only visible to the owning process.
	Private Scope = iota
	// Shared entries are visible to every process attached to the same cache key.
	Shared
)

func (s Scope) String() string {
	switch s {
	case Private:
		return "private"
	case Shared:
		return "shared"
	default:
		return fmt.Sprintf("Scope(%d)", uint8(s))
	}
}

// Hint classifies a key as shared or private.
type Hint func(k key.ValueKey) Scope

// Always returns a hint that puts every key into scope s.
func Always(s Scope) Hint {
	return func(key.ValueKey) Scope { return s }
}

// Value is a computed value together with its key.
type Value struct {
	Key   key.ValueKey
	Value any
}

// Result is one entry of a bulk get. Found is false for absent values.
type Result struct {
	Key   key.ValueKey
	Value any
	Found bool
}

// MissLoader is asked for values that are absent in both stores, e.g. to
// find them on other nodes. Absent values are omitted from the result.
type MissLoader interface {
	LoadMissing(ids []uint64) (map[uint64][]byte, error)
}

// MissLoaderFunc adapts a function to the MissLoader interface.
type MissLoaderFunc func(ids []uint64) (map[uint64][]byte, error)

func (f MissLoaderFunc) LoadMissing(ids []uint64) (map[uint64][]byte, error) {
	return f(ids)
}

// Cache is the value oriented API of a cache. It is implemented by ValueCache
// and by the decorators in the deferred package.
type Cache interface {
	// Get returns the value of k, looking at the private store first, then
	// the shared store, then the miss loader.
	Get(k key.ValueKey) (value any, found bool, err error)
	// GetScoped returns the value of k from the given scope only.
	GetScoped(k key.ValueKey, scope Scope) (value any, found bool, err error)
	// GetMany returns one result per key, in the order of keys. With a nil
	// hint every key is looked up like Get; otherwise every key is only
	// looked up in the scope the hint selects, and only shared keys reach
	// the miss loader.
	GetMany(keys []key.ValueKey, hint Hint) ([]Result, error)
	// Put stores v in the scope selected by hint.
	Put(v Value, hint Hint) error
	PutShared(v Value) error
	PutPrivate(v Value) error
	// PutMany stores all values, one bulk write per scope.
	PutMany(values []Value, hint Hint) error
	// EstimateValueSize returns the (advisory) encoded size of v.
	EstimateValueSize(v Value) (int, bool)
}

// --------------------------------------------------------------------------
// Value Cache
// --------------------------------------------------------------------------

// Options configures a ValueCache.
type Options struct {
	// Codec encodes values (nil = msgpack).
	Codec codec.Codec
	// MissLoader is consulted for values absent in both stores (optional).
	MissLoader MissLoader
	// SizeEntries bounds the number of remembered encoded sizes (0 = 10000).
	SizeEntries int64
}

// ValueCache combines an identifier map with a private and a shared binary
// store.
type ValueCache struct {
	ids     identifier.IdentifierMap
	private store.BinaryStore
	shared  store.BinaryStore
	codec   codec.Codec
	loader  MissLoader

	// sizes remembers the encoded size per canonical key
	sizes *ristretto.Cache
}

// New creates a value cache. The caller keeps ownership of the stores, but
// Delete destroys their content.
func New(ids identifier.IdentifierMap, private, shared store.BinaryStore, opts Options) (*ValueCache, error) {
	if ids == nil || private == nil || shared == nil {
		return nil, errors.New("cache: identifier map and both stores are required")
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewMsgpack()
	}
	if opts.SizeEntries <= 0 {
		opts.SizeEntries = 10_000
	}
	sizes, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.SizeEntries * 10,
		MaxCost:     opts.SizeEntries, // every entry costs 1
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ValueCache{
		ids:     ids,
		private: private,
		shared:  shared,
		codec:   opts.Codec,
		loader:  opts.MissLoader,
		sizes:   sizes,
	}, nil
}

// Store returns the binary store of scope s.
func (c *ValueCache) Store(s Scope) store.BinaryStore {
	if s == Shared {
		return c.shared
	}
	return c.private
}

// Identifiers returns the identifier map of the cache.
func (c *ValueCache) Identifiers() identifier.IdentifierMap {
	return c.ids
}

func (c *ValueCache) decode(k key.ValueKey, b []byte) (any, error) {
	v, err := c.codec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("cache: decoding %s: %w", k, err)
	}
	c.sizes.Set(k.Canonical(), len(b), 1)
	return v, nil
}

func (c *ValueCache) encode(v Value) ([]byte, error) {
	b, err := c.codec.Encode(v.Value)
	if err != nil {
		return nil, fmt.Errorf("cache: encoding %s: %w", v.Key, err)
	}
	c.sizes.Set(v.Key.Canonical(), len(b), 1)
	return b, nil
}

// load asks the miss loader for ids (nil result without loader)
func (c *ValueCache) load(ids []uint64) (map[uint64][]byte, error) {
	if c.loader == nil || len(ids) == 0 {
		return nil, nil
	}
	found, err := c.loader.LoadMissing(ids)
	if err != nil {
		return nil, err
	}
	loaderHits.Add(len(found))
	return found, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see Cache)
// --------------------------------------------------------------------------

func (c *ValueCache) Get(k key.ValueKey) (any, bool, error) {
	id, err := c.ids.Identify(k)
	if err != nil {
		return nil, false, err
	}
	for _, s := range []Scope{Private, Shared} {
		b, ok, err := c.Store(s).Get(id)
		if err != nil {
			return nil, false, err
		}
		if ok {
			hit(s, 1)
			v, err := c.decode(k, b)
			return v, err == nil, err
		}
	}

	loaded, err := c.load([]uint64{id})
	if err != nil {
		return nil, false, err
	}
	if b, ok := loaded[id]; ok {
		v, err := c.decode(k, b)
		return v, err == nil, err
	}
	misses.Inc()
	return nil, false, nil
}

func (c *ValueCache) GetScoped(k key.ValueKey, scope Scope) (any, bool, error) {
	id, err := c.ids.Identify(k)
	if err != nil {
		return nil, false, err
	}
	b, ok, err := c.Store(scope).Get(id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		misses.Inc()
		return nil, false, nil
	}
	hit(scope, 1)
	v, err := c.decode(k, b)
	return v, err == nil, err
}

func (c *ValueCache) GetMany(keys []key.ValueKey, hint Hint) ([]Result, error) {
	ids, err := c.ids.IdentifyMany(keys)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(keys))
	for i, k := range keys {
		results[i].Key = k
	}
	if len(keys) == 0 {
		return results, nil
	}

	// positions of every id still missing (a key may appear twice)
	missing := make(map[uint64][]int, len(ids))
	for i, id := range ids {
		missing[id] = append(missing[id], i)
	}

	fill := func(found map[uint64][]byte) error {
		for id, b := range found {
			idx, ok := missing[id]
			if !ok {
				continue
			}
			v, err := c.decode(keys[idx[0]], b)
			if err != nil {
				return err
			}
			for _, i := range idx {
				results[i].Value, results[i].Found = v, true
			}
			delete(missing, id)
		}
		return nil
	}
	query := func(s Scope, only func(id uint64) bool) error {
		var want []uint64
		for id := range missing {
			if only == nil || only(id) {
				want = append(want, id)
			}
		}
		if len(want) == 0 {
			return nil
		}
		found, err := c.Store(s).GetMany(want)
		if err != nil {
			return err
		}
		hit(s, len(found))
		return fill(found)
	}

	var scopes map[uint64]Scope
	if hint == nil {
		if err := query(Private, nil); err != nil {
			return nil, err
		}
		if err := query(Shared, nil); err != nil {
			return nil, err
		}
	} else {
		scopes = make(map[uint64]Scope, len(ids))
		for i, id := range ids {
			scopes[id] = hint(keys[i])
		}
		for _, s := range []Scope{Private, Shared} {
			if err := query(s, func(id uint64) bool { return scopes[id] == s }); err != nil {
				return nil, err
			}
		}
	}

	// the loader finds shared values, private keys stay local
	rest := make([]uint64, 0, len(missing))
	for id := range missing {
		if scopes == nil || scopes[id] == Shared {
			rest = append(rest, id)
		}
	}
	loaded, err := c.load(rest)
	if err != nil {
		return nil, err
	}
	if err := fill(loaded); err != nil {
		return nil, err
	}
	misses.Add(len(missing))
	return results, nil
}

func (c *ValueCache) Put(v Value, hint Hint) error {
	if hint == nil {
		return c.PutPrivate(v)
	}
	return c.put(hint(v.Key), v)
}

func (c *ValueCache) PutShared(v Value) error {
	return c.put(Shared, v)
}

func (c *ValueCache) PutPrivate(v Value) error {
	return c.put(Private, v)
}

func (c *ValueCache) put(s Scope, v Value) error {
	b, err := c.encode(v)
	if err != nil {
		return err
	}
	id, err := c.ids.Identify(v.Key)
	if err != nil {
		return err
	}
	puts.Inc()
	return c.Store(s).Put(id, b)
}

// PutMany interns all keys in one call and issues one write per scope. A
// scope with a single value uses a single-item write. With a nil hint all
// values are private.
func (c *ValueCache) PutMany(values []Value, hint Hint) error {
	if len(values) == 0 {
		return nil
	}
	if hint == nil {
		hint = Always(Private)
	}
	keys := make([]key.ValueKey, len(values))
	for i, v := range values {
		keys[i] = v.Key
	}
	ids, err := c.ids.IdentifyMany(keys)
	if err != nil {
		return err
	}

	partitions := map[Scope]map[uint64][]byte{}
	for i, v := range values {
		b, err := c.encode(v)
		if err != nil {
			return err
		}
		s := hint(v.Key)
		if partitions[s] == nil {
			partitions[s] = make(map[uint64][]byte)
		}
		// later values of the same key win
		partitions[s][ids[i]] = b
	}

	for s, payloads := range partitions {
		if err := c.PutIDs(s, payloads); err != nil {
			return err
		}
	}
	return nil
}

func (c *ValueCache) EstimateValueSize(v Value) (int, bool) {
	if size, ok := c.sizes.Get(v.Key.Canonical()); ok {
		return size.(int), true
	}
	return c.codec.FixedSize(v.Value)
}

// --------------------------------------------------------------------------
// Identifier Level Access
// --------------------------------------------------------------------------

// GetIDs returns the payloads of ids in scope s. Payloads absent in the
// shared scope are requested from the miss loader.
func (c *ValueCache) GetIDs(s Scope, ids []uint64) (map[uint64][]byte, error) {
	found, err := c.Store(s).GetMany(ids)
	if err != nil {
		return nil, err
	}
	hit(s, len(found))
	if s != Shared || len(found) == len(ids) {
		return found, nil
	}

	var rest []uint64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			rest = append(rest, id)
		}
	}
	loaded, err := c.load(rest)
	if err != nil {
		return nil, err
	}
	for id, b := range loaded {
		found[id] = b
	}
	misses.Add(len(rest) - len(loaded))
	return found, nil
}

// PutIDs stores already encoded payloads in scope s.
func (c *ValueCache) PutIDs(s Scope, payloads map[uint64][]byte) error {
	switch len(payloads) {
	case 0:
		return nil
	case 1:
		for id, b := range payloads {
			puts.Inc()
			return c.Store(s).Put(id, b)
		}
	}
	puts.Add(len(payloads))
	return c.Store(s).PutMany(payloads)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Delete destroys the content of both stores.
func (c *ValueCache) Delete() error {
	return errors.Join(c.private.Delete(), c.shared.Delete())
}

// Close releases the resources of the cache (not the stores' content).
func (c *ValueCache) Close() {
	c.sizes.Close()
}
