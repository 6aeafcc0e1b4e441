package transport

import (
	"net"

	"github.com/ValentinKolb/dCache/rpc/common"
)

// --------------------------------------------------------------------------
// Channels
// --------------------------------------------------------------------------

// Channel separates traffic classes. Every channel has its own connections,
// so slow control traffic never queues behind fast lookups and vice versa.
type Channel uint64

const (
	// ChannelQuery carries Get requests
	ChannelQuery Channel = 1
	// ChannelControl carries everything else, including broadcasts
	ChannelControl Channel = 2
)

// Channels lists all channels
var Channels = []Channel{ChannelQuery, ChannelControl}

func (c Channel) String() string {
	switch c {
	case ChannelQuery:
		return "query"
	case ChannelControl:
		return "control"
	default:
		return "unknown"
	}
}

// PeerID identifies one accepted connection on the server
type PeerID uint64

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes the connection, the channel and a request as parameters and returns a response
type ServerHandleFunc func(peer PeerID, channel Channel, req []byte) (resp []byte)

// DisconnectFunc is called after a connection was closed
type DisconnectFunc func(peer PeerID)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// OnDisconnect registers a function that is called when a connection is closed
	OnDisconnect(fn DisconnectFunc)
	// Listen starts the transport layer and listens for incoming requests.
	// It blocks until Close is called.
	Listen(config common.ServerConfig) error
	// Addr returns the listening address, nil before Listen bound the socket
	Addr() net.Addr
	// Push sends a broadcast frame to one connection. It does not wait for
	// a reply; broadcasts have none.
	Push(peer PeerID, channel Channel, msg []byte) error
	// Close stops listening and closes every connection
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// BroadcastHandler is called for every frame the server pushes without a
// request. Handlers run on their own goroutine and may send requests.
type BroadcastHandler func(channel Channel, msg []byte)

// SendFunc sends a request on one specific connection
type SendFunc func(req []byte) (resp []byte, err error)

// ConnectHook is called whenever a connection of a channel was established,
// including reconnects. index is the position of the connection within the
// connections of its endpoint and channel, send is bound to that connection.
type ConnectHook func(channel Channel, endpoint string, index int, send SendFunc) error

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request on one of the connections of channel and returns the response
	Send(channel Channel, req []byte) (resp []byte, err error)
	// OnBroadcast registers the handler for pushed frames, before Connect
	OnBroadcast(handler BroadcastHandler)
	// OnConnect registers a hook for established connections, before Connect
	OnConnect(hook ConnectHook)
	// Close closes the transport connection
	Close() error
}
