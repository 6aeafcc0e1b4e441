package client

import (
	"testing"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cache/deferred"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionClient(t *testing.T, addr, node string, opts Options) *Client {
	t.Helper()
	opts.Node = node
	c, err := NewClient(config(addr), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWriteBehindSession(t *testing.T) {
	addr := startTCPServer(t)
	writer := newSessionClient(t, addr, "writer", Options{WriteBehind: true, ReadBuffer: 64})
	reader := newSessionClient(t, addr, "reader", Options{})
	ck := cache.CacheKey{CycleID: 777, CalcConfig: "Default"}

	s, err := writer.Session(ck)
	require.NoError(t, err)
	require.NoError(t, s.PutShared(cache.Value{Key: spot("EURUSD"), Value: 1.08}))
	require.NoError(t, s.PutPrivate(cache.Value{Key: spot("GBPUSD"), Value: 1.27}))

	// queued writes are visible to the writer at once
	v, found, err := s.Get(spot("GBPUSD"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.27, v)

	require.NoError(t, s.Flush())

	vc, err := reader.Cache(ck)
	require.NoError(t, err)
	v, found, err = vc.GetScoped(spot("EURUSD"), cache.Shared)
	require.NoError(t, err)
	require.True(t, found, "flushed shared values reach the server")
	assert.Equal(t, 1.08, v)

	// sessions of one cache key share the writer
	other, err := writer.Session(ck)
	require.NoError(t, err)
	v, found, err = other.Get(spot("GBPUSD"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.27, v)
}

func TestDirectSessionIsDefault(t *testing.T) {
	addr := startTCPServer(t)
	c := newSessionClient(t, addr, "node-1", Options{})
	ck := cache.CacheKey{CycleID: 777, CalcConfig: "Default"}

	s, err := c.Session(ck)
	require.NoError(t, err)
	require.NoError(t, s.PutShared(cache.Value{Key: spot("EURUSD"), Value: "direct"}))

	// applied before Put returned, no flush needed
	vc, err := c.Cache(ck)
	require.NoError(t, err)
	v, found, err := vc.GetScoped(spot("EURUSD"), cache.Shared)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "direct", v)
}

func TestReleaseClosesWriters(t *testing.T) {
	addr := startTCPServer(t)
	c := newSessionClient(t, addr, "node-1", Options{WriteBehind: true})
	released := cache.CacheKey{CycleID: 777, CalcConfig: "Default"}
	kept := cache.CacheKey{CycleID: 778, CalcConfig: "Default"}

	old, err := c.Session(released)
	require.NoError(t, err)
	require.NoError(t, old.PutPrivate(cache.Value{Key: spot("EURUSD"), Value: "old"}))
	require.NoError(t, old.Flush())
	_, err = c.Session(kept)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseCaches(released.CycleID))

	_, ok := c.writers.Load(released)
	assert.False(t, ok)
	_, ok = c.writers.Load(kept)
	assert.True(t, ok)

	// the writer of the released cycle is closed
	assert.ErrorIs(t, old.PutPrivate(cache.Value{Key: spot("EURUSD"), Value: "late"}), deferred.ErrClosed)

	// a new session starts with an empty cache
	s, err := c.Session(released)
	require.NoError(t, err)
	_, found, err := s.Get(spot("EURUSD"))
	require.NoError(t, err)
	assert.False(t, found)
}
