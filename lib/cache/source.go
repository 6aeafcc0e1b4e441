package cache

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

// CacheKey identifies one cache instance. All entries of a cache share one
// lifecycle: they are created on first access and released together.
type CacheKey struct {
	CycleID    uint64
	CalcConfig string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%d/%s", k.CycleID, k.CalcConfig)
}

// StoreName returns the name of the store of ck in scope s,
// e.g. "777/Default/shared".
func StoreName(ck CacheKey, s Scope) string {
	return ck.String() + "/" + s.String()
}

// ParseStoreName is the inverse of StoreName.
func ParseStoreName(name string) (CacheKey, Scope, error) {
	var s Scope
	switch {
	case strings.HasSuffix(name, "/"+Shared.String()):
		s = Shared
	case strings.HasSuffix(name, "/"+Private.String()):
		s = Private
	default:
		return CacheKey{}, 0, fmt.Errorf("cache: invalid store name %q", name)
	}
	rest := strings.TrimSuffix(name, "/"+s.String())
	cycle, config, ok := strings.Cut(rest, "/")
	if !ok {
		return CacheKey{}, 0, fmt.Errorf("cache: invalid store name %q", name)
	}
	id, err := strconv.ParseUint(cycle, 10, 64)
	if err != nil {
		return CacheKey{}, 0, fmt.Errorf("cache: invalid cycle in store name %q: %w", name, err)
	}
	return CacheKey{CycleID: id, CalcConfig: config}, s, nil
}

// LoaderFactory creates the miss loader of a new cache. shared is the shared
// store of that cache.
type LoaderFactory func(ck CacheKey, shared store.BinaryStore) MissLoader

// SourceOptions configures a Source.
type SourceOptions struct {
	// Cache configures every created cache. Its MissLoader is ignored,
	// see Loader.
	Cache Options
	// Loader creates a miss loader per cache (optional).
	Loader LoaderFactory
}

// Source owns the caches of all cache keys of one process. A cache is
// created on first access and lives until its cycle is released.
type Source struct {
	ids     identifier.IdentifierMap
	private store.Factory
	shared  store.Factory
	opts    SourceOptions

	// mu serializes creation and release, lookups are lock-free
	mu     sync.Mutex
	caches *xsync.MapOf[CacheKey, *ValueCache]
}

// NewSource creates a source whose caches share ids and create their stores
// with the given factories. Store names are "<cycle>/<config>/private" and
// "<cycle>/<config>/shared".
func NewSource(ids identifier.IdentifierMap, private, shared store.Factory, opts SourceOptions) *Source {
	return &Source{
		ids:     ids,
		private: private,
		shared:  shared,
		opts:    opts,
		caches:  xsync.NewMapOf[CacheKey, *ValueCache](),
	}
}

// Identifiers returns the identifier map shared by all caches.
func (s *Source) Identifiers() identifier.IdentifierMap {
	return s.ids
}

// Cache returns the cache of ck, creating it on first access.
func (s *Source) Cache(ck CacheKey) (*ValueCache, error) {
	if c, ok := s.caches.Load(ck); ok {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches.Load(ck); ok {
		return c, nil
	}

	private, err := s.private(StoreName(ck, Private))
	if err != nil {
		return nil, fmt.Errorf("cache %s: private store: %w", ck, err)
	}
	shared, err := s.shared(StoreName(ck, Shared))
	if err != nil {
		return nil, fmt.Errorf("cache %s: shared store: %w", ck, err)
	}
	opts := s.opts.Cache
	opts.MissLoader = nil
	if s.opts.Loader != nil {
		opts.MissLoader = s.opts.Loader(ck, shared)
	}
	c, err := New(s.ids, private, shared, opts)
	if err != nil {
		return nil, err
	}
	s.caches.Store(ck, c)
	caches.Inc()
	Logger.Debugf("created cache %s", ck)
	return c, nil
}

// Lookup returns the cache of ck if it already exists.
func (s *Source) Lookup(ck CacheKey) (*ValueCache, bool) {
	return s.caches.Load(ck)
}

// CacheKeys returns the keys of all existing caches, sorted.
func (s *Source) CacheKeys() []CacheKey {
	var keys []CacheKey
	s.caches.Range(func(ck CacheKey, _ *ValueCache) bool {
		keys = append(keys, ck)
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CycleID != keys[j].CycleID {
			return keys[i].CycleID < keys[j].CycleID
		}
		return keys[i].CalcConfig < keys[j].CalcConfig
	})
	return keys
}

// FindPrivate returns the private payloads of ids. Only an existing cache is
// consulted; a missing cache yields an empty result.
func (s *Source) FindPrivate(ck CacheKey, ids []uint64) (map[uint64][]byte, error) {
	c, ok := s.Lookup(ck)
	if !ok {
		return map[uint64][]byte{}, nil
	}
	return c.private.GetMany(ids)
}

// PublishPrivate copies the private payloads of ids into the shared store of
// the same cache and returns the number of published entries. Values that
// only sit in a write-behind queue are not published before they are flushed.
func (s *Source) PublishPrivate(ck CacheKey, ids []uint64) (int, error) {
	c, ok := s.Lookup(ck)
	if !ok {
		return 0, nil
	}
	found, err := c.private.GetMany(ids)
	if err != nil || len(found) == 0 {
		return 0, err
	}
	if err := c.PutIDs(Shared, found); err != nil {
		return 0, err
	}
	return len(found), nil
}

// ReleaseCaches destroys every cache of the cycle. A later access to one of
// its cache keys creates a new, empty cache.
func (s *Source) ReleaseCaches(cycleID uint64) error {
	return s.release(cycleID, true)
}

// DropCaches releases every cache of the cycle like ReleaseCaches, but only
// deletes the private stores. It is used when the shared scope of the cycle
// was already released elsewhere.
func (s *Source) DropCaches(cycleID uint64) error {
	return s.release(cycleID, false)
}

func (s *Source) release(cycleID uint64, shared bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	s.caches.Range(func(ck CacheKey, c *ValueCache) bool {
		if ck.CycleID != cycleID {
			return true
		}
		s.caches.Delete(ck)
		err := c.private.Delete()
		if shared {
			err = errors.Join(err, c.shared.Delete())
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("releasing cache %s: %w", ck, err))
		}
		c.Close()
		releases.Inc()
		Logger.Debugf("released cache %s", ck)
		return true
	})
	return errors.Join(errs...)
}

// Close closes every cache without deleting any data.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caches.Range(func(ck CacheKey, c *ValueCache) bool {
		s.caches.Delete(ck)
		c.Close()
		return true
	})
}
