package cache

import (
	"testing"

	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/mstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSource(t *testing.T, loader LoaderFactory) *Source {
	s := NewSource(identifier.NewMemoryIdentifierMap(), mstore.NewFactory(), mstore.NewFactory(), SourceOptions{Loader: loader})
	t.Cleanup(s.Close)
	return s
}

func TestSourceLifecycle(t *testing.T) {
	s := newSource(t, nil)
	ck := CacheKey{CycleID: 777, CalcConfig: "Default"}
	assert.Equal(t, "777/Default", ck.String())

	_, ok := s.Lookup(ck)
	assert.False(t, ok)

	c, err := s.Cache(ck)
	require.NoError(t, err)
	again, err := s.Cache(ck)
	require.NoError(t, err)
	assert.Same(t, c, again)

	other, err := s.Cache(CacheKey{CycleID: 778, CalcConfig: "Default"})
	require.NoError(t, err)
	require.NoError(t, c.PutShared(Value{Key: vk("A"), Value: "a"}))
	require.NoError(t, other.PutShared(Value{Key: vk("A"), Value: "b"}))

	assert.Equal(t, []CacheKey{ck, {CycleID: 778, CalcConfig: "Default"}}, s.CacheKeys())

	require.NoError(t, s.ReleaseCaches(777))
	_, ok = s.Lookup(ck)
	assert.False(t, ok)

	// a released cache comes back empty
	fresh, err := s.Cache(ck)
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)
	_, ok, err = fresh.Get(vk("A"))
	require.NoError(t, err)
	assert.False(t, ok)

	// other cycles are untouched
	v, ok, err := other.Get(vk("A"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestFindAndPublishPrivate(t *testing.T) {
	s := newSource(t, nil)
	ck := CacheKey{CycleID: 777, CalcConfig: "Default"}

	found, err := s.FindPrivate(ck, []uint64{42})
	require.NoError(t, err)
	assert.Empty(t, found)
	_, ok := s.Lookup(ck)
	assert.False(t, ok, "finding does not create caches")

	c, err := s.Cache(ck)
	require.NoError(t, err)
	require.NoError(t, c.PutIDs(Private, map[uint64][]byte{42: []byte("P")}))

	found, err = s.FindPrivate(ck, []uint64{42, 43})
	require.NoError(t, err)
	assert.Equal(t, map[uint64][]byte{42: []byte("P")}, found)

	n, err := s.PublishPrivate(ck, []uint64{42, 43})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, ok, err := c.Store(Shared).Get(42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("P"), v)
}

func TestSourceLoader(t *testing.T) {
	var created []CacheKey
	s := newSource(t, func(ck CacheKey, shared store.BinaryStore) MissLoader {
		created = append(created, ck)
		return MissLoaderFunc(func(ids []uint64) (map[uint64][]byte, error) {
			return shared.GetMany(ids)
		})
	})
	ck := CacheKey{CycleID: 1, CalcConfig: "Default"}
	_, err := s.Cache(ck)
	require.NoError(t, err)
	_, err = s.Cache(ck)
	require.NoError(t, err)
	assert.Equal(t, []CacheKey{ck}, created)
}

func TestStoreNames(t *testing.T) {
	ck := CacheKey{CycleID: 777, CalcConfig: "Default/FX"}
	name := StoreName(ck, Shared)
	assert.Equal(t, "777/Default/FX/shared", name)

	got, scope, err := ParseStoreName(name)
	require.NoError(t, err)
	assert.Equal(t, ck, got)
	assert.Equal(t, Shared, scope)

	got, scope, err = ParseStoreName(StoreName(ck, Private))
	require.NoError(t, err)
	assert.Equal(t, ck, got)
	assert.Equal(t, Private, scope)

	for _, bad := range []string{"", "777/Default", "x/Default/shared", "shared"} {
		_, _, err := ParseStoreName(bad)
		assert.Error(t, err, bad)
	}
}

func TestDropCachesKeepsShared(t *testing.T) {
	s := newSource(t, nil)
	ck := CacheKey{CycleID: 9, CalcConfig: "Default"}
	c, err := s.Cache(ck)
	require.NoError(t, err)
	require.NoError(t, c.PutPrivate(Value{Key: vk("P"), Value: "p"}))
	require.NoError(t, c.PutShared(Value{Key: vk("S"), Value: "s"}))

	require.NoError(t, s.DropCaches(9))
	_, ok := s.Lookup(ck)
	assert.False(t, ok)

	fresh, err := s.Cache(ck)
	require.NoError(t, err)
	_, ok, err = fresh.Get(vk("P"))
	require.NoError(t, err)
	assert.False(t, ok, "private entries are gone")
	v, ok, err := fresh.Get(vk("S"))
	require.NoError(t, err)
	assert.True(t, ok, "shared entries are left to their owner")
	assert.Equal(t, "s", v)
}
