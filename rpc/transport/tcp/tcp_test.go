package tcp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo answers every request with the channel name and the request
func echo(_ transport.PeerID, channel transport.Channel, req []byte) []byte {
	return append([]byte(channel.String()+":"), req...)
}

// startServer starts a server on a random port and returns it with its address
func startServer(t *testing.T, handler transport.ServerHandleFunc, onDisconnect transport.DisconnectFunc) (transport.IRPCServerTransport, string) {
	t.Helper()

	server := NewTCPDefaultServerTransport()
	server.RegisterHandler(handler)
	if onDisconnect != nil {
		server.OnDisconnect(onDisconnect)
	}

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			Transport: common.ServerTransportConfig{
				Endpoint: "127.0.0.1:0",
				TCPConf:  common.TCPConf{TCPNoDelay: true},
			},
			TimeoutSecond: 5,
		})
	}()

	require.Eventually(t, func() bool { return server.Addr() != nil }, 5*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		_ = server.Close()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("listen did not return after close")
		}
	})
	return server, server.Addr().String()
}

func clientConfig(addr string, connections int) common.ClientConfig {
	return common.ClientConfig{
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{addr},
			RetryCount:             1,
			ConnectionsPerEndpoint: connections,
			TCPConf:                common.TCPConf{TCPNoDelay: true},
		},
		TimeoutSecond: 5,
	}
}

func TestRoundTrip(t *testing.T) {
	_, addr := startServer(t, echo, nil)

	client := NewTCPClientTransport()
	require.NoError(t, client.Connect(clientConfig(addr, 1)))
	defer client.Close()

	resp, err := client.Send(transport.ChannelQuery, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "query:ping", string(resp))

	resp, err = client.Send(transport.ChannelControl, []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "control:ping", string(resp))

	// empty requests are valid frames
	resp, err = client.Send(transport.ChannelQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, "query:", string(resp))
}

func TestConcurrentRequests(t *testing.T) {
	_, addr := startServer(t, echo, nil)

	client := NewTCPClientTransport()
	require.NoError(t, client.Connect(clientConfig(addr, 3)))
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := fmt.Sprintf("req-%d", i)
			resp, err := client.Send(transport.ChannelQuery, []byte(req))
			if assert.NoError(t, err) {
				assert.Equal(t, "query:"+req, string(resp))
			}
		}(i)
	}
	wg.Wait()
}

func TestConnectHook(t *testing.T) {
	_, addr := startServer(t, echo, nil)

	type call struct {
		channel transport.Channel
		index   int
	}
	var mu sync.Mutex
	var calls []call

	client := NewTCPClientTransport()
	client.OnConnect(func(channel transport.Channel, endpoint string, index int, send transport.SendFunc) error {
		assert.Equal(t, addr, endpoint)
		resp, err := send([]byte("hello"))
		if err != nil {
			return err
		}
		assert.Equal(t, channel.String()+":hello", string(resp))

		mu.Lock()
		calls = append(calls, call{channel, index})
		mu.Unlock()
		return nil
	})
	require.NoError(t, client.Connect(clientConfig(addr, 2)))
	defer client.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []call{
		{transport.ChannelQuery, 0}, {transport.ChannelQuery, 1},
		{transport.ChannelControl, 0}, {transport.ChannelControl, 1},
	}, calls)
}

func TestConnectHookError(t *testing.T) {
	_, addr := startServer(t, echo, nil)

	client := NewTCPClientTransport()
	client.OnConnect(func(transport.Channel, string, int, transport.SendFunc) error {
		return fmt.Errorf("rejected")
	})
	err := client.Connect(clientConfig(addr, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestPushBroadcast(t *testing.T) {
	peers := make(chan transport.PeerID, 1)
	server, addr := startServer(t, func(peer transport.PeerID, channel transport.Channel, req []byte) []byte {
		if channel == transport.ChannelControl && string(req) == "register" {
			peers <- peer
		}
		return []byte("ok")
	}, nil)

	received := make(chan string, 1)
	client := NewTCPClientTransport()
	client.OnBroadcast(func(channel transport.Channel, msg []byte) {
		received <- channel.String() + ":" + string(msg)
	})
	require.NoError(t, client.Connect(clientConfig(addr, 1)))
	defer client.Close()

	_, err := client.Send(transport.ChannelControl, []byte("register"))
	require.NoError(t, err)
	peer := <-peers

	require.NoError(t, server.Push(peer, transport.ChannelControl, []byte("news")))

	select {
	case msg := <-received:
		assert.Equal(t, "control:news", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not received")
	}

	// requests keep working after a broadcast on the same connection
	resp, err := client.Send(transport.ChannelControl, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp))

	// unknown peers cannot be addressed
	assert.Error(t, server.Push(transport.PeerID(1<<40), transport.ChannelControl, []byte("news")))
}

func TestBroadcastHandlerMaySend(t *testing.T) {
	peers := make(chan transport.PeerID, 1)
	server, addr := startServer(t, func(peer transport.PeerID, channel transport.Channel, req []byte) []byte {
		if string(req) == "register" {
			peers <- peer
		}
		return append([]byte("re:"), req...)
	}, nil)

	answers := make(chan string, 1)
	var client transport.IRPCClientTransport = NewTCPClientTransport()
	client.OnBroadcast(func(channel transport.Channel, msg []byte) {
		// answering a broadcast with a request must not block the reader
		resp, err := client.Send(channel, msg)
		if assert.NoError(t, err) {
			answers <- string(resp)
		}
	})
	require.NoError(t, client.Connect(clientConfig(addr, 1)))
	defer client.Close()

	_, err := client.Send(transport.ChannelControl, []byte("register"))
	require.NoError(t, err)
	require.NoError(t, server.Push(<-peers, transport.ChannelControl, []byte("find")))

	select {
	case answer := <-answers:
		assert.Equal(t, "re:find", answer)
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast was not answered")
	}
}

func TestDisconnect(t *testing.T) {
	var disconnects atomic.Int32
	_, addr := startServer(t, echo, func(transport.PeerID) {
		disconnects.Add(1)
	})

	client := NewTCPClientTransport()
	require.NoError(t, client.Connect(clientConfig(addr, 2)))
	_, err := client.Send(transport.ChannelQuery, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// two connections per channel
	assert.Eventually(t, func() bool { return disconnects.Load() == 4 }, 5*time.Second, 5*time.Millisecond)

	_, err = client.Send(transport.ChannelQuery, []byte("x"))
	assert.Error(t, err)
}

func TestConnectErrors(t *testing.T) {
	client := NewTCPClientTransport()
	assert.Error(t, client.Connect(common.ClientConfig{}))

	// nothing listens on this port
	assert.Error(t, client.Connect(clientConfig("127.0.0.1:1", 1)))
}

func TestReconnect(t *testing.T) {
	first, addr := startServer(t, echo, nil)

	var hooks atomic.Int32
	client := NewTCPClientTransport()
	client.OnConnect(func(channel transport.Channel, _ string, _ int, _ transport.SendFunc) error {
		if channel == transport.ChannelControl {
			hooks.Add(1)
		}
		return nil
	})
	config := clientConfig(addr, 1)
	config.Transport.RetryCount = 5
	require.NoError(t, client.Connect(config))
	defer client.Close()
	require.Equal(t, int32(1), hooks.Load())

	// restart the server on the same address
	require.NoError(t, first.Close())
	second := NewTCPDefaultServerTransport()
	second.RegisterHandler(echo)
	go func() {
		_ = second.Listen(common.ServerConfig{
			Transport:     common.ServerTransportConfig{Endpoint: addr},
			TimeoutSecond: 5,
		})
	}()
	defer second.Close()

	// the hook runs again for the new connection
	assert.Eventually(t, func() bool { return hooks.Load() == 2 }, 10*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		resp, err := client.Send(transport.ChannelQuery, []byte("again"))
		return err == nil && string(resp) == "query:again"
	}, 10*time.Second, 10*time.Millisecond)
}
