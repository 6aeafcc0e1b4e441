package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/ValentinKolb/dCache/rpc/client"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/ValentinKolb/dCache/rpc/transport/tcp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves on a random port, mod adjusts the configuration
func startServer(t *testing.T, mod func(*common.ServerConfig)) *RPCServer {
	t.Helper()

	config := common.ServerConfig{
		Transport:     common.ServerTransportConfig{Endpoint: "127.0.0.1:0"},
		TimeoutSecond: 5,
		FindTimeout:   time.Second,
		LogLevel:      "warning",
	}
	if mod != nil {
		mod(&config)
	}

	s := NewRPCServer(config, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	if s.Addr(5*time.Second) == nil {
		select {
		case err := <-done:
			t.Fatalf("server did not start: %v", err)
		default:
			t.Fatal("server did not start")
		}
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func clientConfig(s *RPCServer) common.ClientConfig {
	return common.ClientConfig{
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{s.Addr(time.Second).String()},
			RetryCount: 1,
		},
		TimeoutSecond: 5,
	}
}

func newClient(t *testing.T, s *RPCServer, node string) *client.Client {
	t.Helper()
	c, err := client.NewClient(clientConfig(s), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer(), client.Options{Node: node})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func spot(pair string) key.ValueKey {
	return key.New("FX_SPOT", key.NewTarget(key.Class("CurrencyPair"), pair), nil)
}

func TestInvalidConfiguration(t *testing.T) {
	s := NewRPCServer(common.ServerConfig{
		Transport:     common.ServerTransportConfig{Endpoint: "127.0.0.1:0"},
		SharedBackend: common.BackendPebble,
		LogLevel:      "warning",
	}, tcp.NewTCPDefaultServerTransport(), serializer.NewBinarySerializer())
	defer s.Close()

	err := s.Serve()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data directory")
}

func TestProtocolErrors(t *testing.T) {
	s := startServer(t, nil)
	codec := serializer.NewBinarySerializer()

	raw := tcp.NewTCPClientTransport()
	require.NoError(t, raw.Connect(clientConfig(s)))
	defer raw.Close()

	tests := []struct {
		name string
		req  []byte
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}},
		{"missing config", mustSerialize(t, codec, common.NewGetRequest(777, "", []uint64{1}))},
		{"empty payload", mustSerialize(t, codec, common.NewPutRequest(777, "Default", []uint64{1}, [][]byte{{}}))},
		{"response type", mustSerialize(t, codec, common.NewPutResponse(nil))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := raw.Send(transport.ChannelControl, tc.req)
			require.NoError(t, err)

			var resp common.Message
			require.NoError(t, codec.Deserialize(data, &resp))
			assert.Equal(t, common.MsgTError, resp.MsgType)
			assert.NotEmpty(t, resp.Err)
		})
	}

	// the connection stays usable
	data, err := raw.Send(transport.ChannelQuery, mustSerialize(t, codec, common.NewGetRequest(777, "Default", []uint64{1})))
	require.NoError(t, err)
	var resp common.Message
	require.NoError(t, codec.Deserialize(data, &resp))
	assert.Equal(t, common.MsgTGet, resp.MsgType, "responses echo the request type")
	assert.Empty(t, resp.Err)
	require.Len(t, resp.Payloads, 1)
	assert.Empty(t, resp.Payloads[0], "absent ids have an empty payload")
}

func mustSerialize(t *testing.T, codec serializer.IRPCSerializer, msg *common.Message) []byte {
	data, err := codec.Serialize(*msg)
	require.NoError(t, err)
	return data
}

func TestSharedIdentifierSpace(t *testing.T) {
	s := startServer(t, nil)
	node1 := newClient(t, s, "node-1")
	node2 := newClient(t, s, "node-2")

	eur, err := node1.Identifiers().Identify(spot("EURUSD"))
	require.NoError(t, err)
	ids, err := node2.Identifiers().IdentifyMany([]key.ValueKey{spot("GBPUSD"), spot("EURUSD")})
	require.NoError(t, err)
	assert.Equal(t, eur, ids[1])
	assert.NotEqual(t, ids[0], ids[1])

	k, found, err := node1.Identifiers().Resolve(ids[0])
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, spot("GBPUSD").Equal(k))

	_, found, err = node1.Identifiers().Resolve(1 << 40)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSharedScope(t *testing.T) {
	s := startServer(t, nil)
	node1 := newClient(t, s, "node-1")
	node2 := newClient(t, s, "node-2")

	c1, err := node1.Cache(testKey)
	require.NoError(t, err)
	require.NoError(t, c1.PutShared(cache.Value{Key: spot("EURUSD"), Value: 1.0842}))

	c2, err := node2.Cache(testKey)
	require.NoError(t, err)
	v, found, err := c2.Get(spot("EURUSD"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.0842, v)

	// the server holds the value in the shared scope of the same cache
	sc, ok := s.Source().Lookup(testKey)
	require.True(t, ok)
	v, found, err = sc.GetScoped(spot("EURUSD"), cache.Shared)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1.0842, v)
}

func TestCrossNodeDiscovery(t *testing.T) {
	s := startServer(t, func(c *common.ServerConfig) { c.FindTimeout = 5 * time.Second })
	node1 := newClient(t, s, "node-1")
	node2 := newClient(t, s, "node-2")

	c1, err := node1.Cache(testKey)
	require.NoError(t, err)
	require.NoError(t, c1.PutPrivate(cache.Value{Key: spot("EURUSD"), Value: "P"}))

	c2, err := node2.Cache(testKey)
	require.NoError(t, err)

	start := time.Now()
	v, found, err := c2.GetScoped(spot("EURUSD"), cache.Shared)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "P", v)
	assert.Less(t, time.Since(start), 5*time.Second, "the publish ends the wait")

	// node-1 published the value, the next reader needs no find
	id, err := node2.Identifiers().Identify(spot("EURUSD"))
	require.NoError(t, err)
	sc, ok := s.Source().Lookup(testKey)
	require.True(t, ok)
	_, found, err = sc.Store(cache.Shared).Get(id)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFindRequestedByClient(t *testing.T) {
	s := startServer(t, nil)
	node1 := newClient(t, s, "node-1")
	node2 := newClient(t, s, "node-2")

	c1, err := node1.Cache(testKey)
	require.NoError(t, err)
	require.NoError(t, c1.PutPrivate(cache.Value{Key: spot("EURUSD"), Value: "P"}))

	id, err := node2.Identifiers().Identify(spot("EURUSD"))
	require.NoError(t, err)
	require.NoError(t, node2.Find(testKey, []uint64{id}))

	assert.Eventually(t, func() bool {
		sc, ok := s.Source().Lookup(testKey)
		if !ok {
			return false
		}
		_, found, err := sc.Store(cache.Shared).Get(id)
		return err == nil && found
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMissingValue(t *testing.T) {
	s := startServer(t, func(c *common.ServerConfig) { c.FindTimeout = 100 * time.Millisecond })
	node1 := newClient(t, s, "node-1")
	newClient(t, s, "node-2")

	c1, err := node1.Cache(testKey)
	require.NoError(t, err)

	start := time.Now()
	_, found, err := c1.Get(spot("USDJPY"))
	require.NoError(t, err, "a value nobody holds is absent, not an error")
	assert.False(t, found)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestReleaseCaches(t *testing.T) {
	s := startServer(t, func(c *common.ServerConfig) { c.FindTimeout = 100 * time.Millisecond })
	node1 := newClient(t, s, "node-1")
	node2 := newClient(t, s, "node-2")

	kept := cache.CacheKey{CycleID: 778, CalcConfig: "Default"}

	c1, err := node1.Cache(testKey)
	require.NoError(t, err)
	require.NoError(t, c1.PutShared(cache.Value{Key: spot("EURUSD"), Value: "shared"}))
	require.NoError(t, c1.PutPrivate(cache.Value{Key: spot("GBPUSD"), Value: "private"}))

	c2, err := node2.Cache(testKey)
	require.NoError(t, err)
	require.NoError(t, c2.PutPrivate(cache.Value{Key: spot("USDJPY"), Value: "other node"}))

	o1, err := node1.Cache(kept)
	require.NoError(t, err)
	require.NoError(t, o1.PutShared(cache.Value{Key: spot("EURUSD"), Value: "kept"}))

	require.NoError(t, node1.ReleaseCaches(777))

	_, ok := node1.Source().Lookup(testKey)
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		_, ok := node2.Source().Lookup(testKey)
		return !ok
	}, 5*time.Second, 10*time.Millisecond, "the other node drops its caches of the cycle")

	// a released cache starts empty everywhere
	fresh, err := node1.Cache(testKey)
	require.NoError(t, err)
	for _, k := range []key.ValueKey{spot("EURUSD"), spot("GBPUSD"), spot("USDJPY")} {
		_, found, err := fresh.Get(k)
		require.NoError(t, err)
		assert.False(t, found, k.String())
	}

	// other cycles are untouched
	v, found, err := o1.GetScoped(spot("EURUSD"), cache.Shared)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "kept", v)
}

func TestDisconnectedPeerIsRemoved(t *testing.T) {
	s := startServer(t, nil)
	c := newClient(t, s, "node-1")
	require.Eventually(t, func() bool { return s.peers.size() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return s.peers.size() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPersistentBackends(t *testing.T) {
	for _, backend := range []common.Backend{common.BackendPebble, common.BackendLevelDB, common.BackendMaple} {
		t.Run(string(backend), func(t *testing.T) {
			dir := t.TempDir()
			withDir := func(c *common.ServerConfig) {
				c.SharedBackend = backend
				c.DataDir = dir
			}

			s := startServer(t, withDir)
			c := newClient(t, s, "node-1")
			id, err := c.Identifiers().Identify(spot("EURUSD"))
			require.NoError(t, err)
			vc, err := c.Cache(testKey)
			require.NoError(t, err)
			require.NoError(t, vc.PutShared(cache.Value{Key: spot("EURUSD"), Value: "persisted"}))
			require.NoError(t, c.Close())
			require.NoError(t, s.Close())
			if backend == common.BackendMaple {
				assert.FileExists(t, filepath.Join(dir, snapshotFile))
			}

			// identifiers and shared values survive the restart
			s = startServer(t, withDir)
			c = newClient(t, s, "node-1")
			again, err := c.Identifiers().Identify(spot("EURUSD"))
			require.NoError(t, err)
			assert.Equal(t, id, again)

			next, err := c.Identifiers().Identify(spot("GBPUSD"))
			require.NoError(t, err)
			assert.NotEqual(t, id, next)

			vc, err = c.Cache(testKey)
			require.NoError(t, err)
			v, found, err := vc.GetScoped(spot("EURUSD"), cache.Shared)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "persisted", v)
		})
	}
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("DCACHE_TEST_REDIS")
	if addr == "" {
		t.Skip("DCACHE_TEST_REDIS not set")
	}

	s := startServer(t, func(c *common.ServerConfig) {
		c.SharedBackend = common.BackendRedis
		c.RedisAddr = addr
		c.RedisPrefix = "dcache-test/" + uuid.NewString() + "/"
	})
	c := newClient(t, s, "node-1")

	vc, err := c.Cache(testKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.ReleaseCaches(testKey.CycleID) })

	require.NoError(t, vc.PutShared(cache.Value{Key: spot("EURUSD"), Value: "redis"}))
	v, found, err := vc.GetScoped(spot("EURUSD"), cache.Shared)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "redis", v)
}
