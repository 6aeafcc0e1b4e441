package server

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/mstore"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushRecorder is a server transport that only records pushed frames
type pushRecorder struct {
	transport.IRPCServerTransport

	mu     sync.Mutex
	pushed []transport.PeerID
	onPush func(peer transport.PeerID, msg []byte)
}

func (r *pushRecorder) Push(peer transport.PeerID, _ transport.Channel, msg []byte) error {
	r.mu.Lock()
	r.pushed = append(r.pushed, peer)
	r.mu.Unlock()
	if r.onPush != nil {
		r.onPush(peer, msg)
	}
	return nil
}

func (r *pushRecorder) peers() []transport.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.PeerID(nil), r.pushed...)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func sharedStore(t *testing.T) store.BinaryStore {
	s, err := mstore.NewFactory()("777/Default/shared")
	require.NoError(t, err)
	return s
}

var testKey = cache.CacheKey{CycleID: 777, CalcConfig: "Default"}

func TestWaiters(t *testing.T) {
	w := newWaiters()

	first := w.acquire(testKey).join([]uint64{1, 2})
	second := w.acquire(testKey).join([]uint64{1})
	assert.Equal(t, first[0], second[0], "a second load joins the open wait")

	w.signal(testKey, []uint64{1, 3})
	assert.True(t, isClosed(first[0]))
	assert.False(t, isClosed(first[1]))

	// a new wait for a signalled id gets a fresh channel
	third := w.acquire(testKey).join([]uint64{1})
	assert.False(t, isClosed(third[0]))

	w.release(testKey)
	w.release(testKey)
	_, ok := w.caches.Load(testKey)
	assert.True(t, ok, "one load still holds the cache key")

	w.release(testKey)
	_, ok = w.caches.Load(testKey)
	assert.False(t, ok)

	// signals without waiters are ignored
	w.signal(testKey, []uint64{2})
}

func TestFindLoaderWithoutPeers(t *testing.T) {
	peers := newPeerSet(&pushRecorder{}, serializer.NewBinarySerializer())
	defer peers.close()

	loader := &findLoader{ck: testKey, shared: sharedStore(t), peers: peers, waiters: newWaiters(), timeout: time.Hour}

	found, err := loader.LoadMissing([]uint64{1})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindLoaderTimeout(t *testing.T) {
	rec := &pushRecorder{}
	peers := newPeerSet(rec, serializer.NewBinarySerializer())
	peers.start(1)
	defer peers.close()
	peers.register(1, "node-1")

	loader := &findLoader{ck: testKey, shared: sharedStore(t), peers: peers, waiters: newWaiters(), timeout: 50 * time.Millisecond}

	start := time.Now()
	found, err := loader.LoadMissing([]uint64{42})
	require.NoError(t, err)
	assert.Empty(t, found, "ids nobody publishes are absent")
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Eventually(t, func() bool { return len(rec.peers()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFindLoaderWakesOnPut(t *testing.T) {
	shared := sharedStore(t)
	w := newWaiters()
	codec := serializer.NewBinarySerializer()

	// the peer answers a find by putting the requested ids
	rec := &pushRecorder{}
	rec.onPush = func(_ transport.PeerID, data []byte) {
		var msg common.Message
		if !assert.NoError(t, codec.Deserialize(data, &msg)) {
			return
		}
		assert.Equal(t, common.MsgTFind, msg.MsgType)
		for _, id := range msg.IDs {
			assert.NoError(t, shared.Put(id, []byte("P")))
		}
		w.signal(testKey, msg.IDs)
	}

	peers := newPeerSet(rec, codec)
	peers.start(2)
	defer peers.close()
	peers.register(1, "node-1")
	peers.register(2, "node-2")

	loader := &findLoader{ck: testKey, shared: shared, peers: peers, waiters: w, timeout: 10 * time.Second}

	start := time.Now()
	found, err := loader.LoadMissing([]uint64{42})
	require.NoError(t, err)
	assert.Equal(t, map[uint64][]byte{42: []byte("P")}, found)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPeerSetBroadcastSkipsSender(t *testing.T) {
	rec := &pushRecorder{}
	peers := newPeerSet(rec, serializer.NewBinarySerializer())
	peers.start(0)
	defer peers.close()

	peers.register(1, "node-1")
	peers.register(2, "node-2")
	peers.register(3, "node-3")
	peers.remove(3)
	assert.Equal(t, 2, peers.size())

	n := peers.broadcast(common.NewReleaseCacheMessage(777), 1)
	assert.Equal(t, 1, n)
	assert.Eventually(t, func() bool {
		got := rec.peers()
		return len(got) == 1 && got[0] == 2
	}, time.Second, 5*time.Millisecond)
}
