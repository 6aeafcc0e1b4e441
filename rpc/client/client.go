package client

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/mstore"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Options configures a Client
type Options struct {
	// Node names the client in the logs of the server (empty = random uuid)
	Node string

	// PrivateStores creates the private store of every cache (nil = in-memory stores)
	PrivateStores store.Factory

	// Cache configures every cache of the client
	Cache cache.Options

	// IdentifierCache bounds the local cache of the remote identifier map
	// (zero = identifier.DefaultCacheOptions)
	IdentifierCache identifier.CacheOptions

	// WriteBehind makes the writes of sessions (see Client.Session)
	// asynchronous, WriteBehindBatch bounds the entries per bulk write
	// (0 = 1000)
	WriteBehind      bool
	WriteBehindBatch int

	// ReadBuffer is the number of recently read values kept per cache key
	// for sessions, reads of the same key share one fetch (0 disables it)
	ReadBuffer int
}

// Client is a cache node attached to a server. Its caches keep the private
// scope locally and the shared scope on the server, identifiers come from
// the server.
//
// The client answers the broadcasts of the server: on Find it publishes the
// requested private entries into the shared scope, on ReleaseCache it drops
// its caches of the released cycle.
type Client struct {
	rpcClientAdapter
	node    string
	opts    Options
	source  *cache.Source
	writers *xsync.MapOf[cache.CacheKey, *writer]
}

// NewClient creates a client and connects the transport
//
// Usage:
//
//	c, err := client.NewClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer(), client.Options{})
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	vc, _ := c.Cache(cache.CacheKey{CycleID: 777, CalcConfig: "Default"})
//	_ = vc.PutPrivate(cache.Value{Key: k, Value: 1.5})
func NewClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
	opts Options,
) (*Client, error) {
	c := &Client{
		rpcClientAdapter: rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		node:    opts.Node,
		opts:    opts,
		writers: xsync.NewMapOf[cache.CacheKey, *writer](),
	}
	if c.node == "" {
		c.node = uuid.NewString()
	}

	ids, err := identifier.NewCachingIdentifierMap(NewRemoteIdentifierMap(config, transport, serializer), opts.IdentifierCache)
	if err != nil {
		return nil, err
	}

	private := opts.PrivateStores
	if private == nil {
		private = mstore.NewFactory()
	}
	c.source = cache.NewSource(ids, private, NewRPCStoreFactory(config, transport, serializer), cache.SourceOptions{
		Cache: opts.Cache,
	})

	// hooks must be in place before the first connection exists
	transport.OnConnect(c.onConnect)
	transport.OnBroadcast(c.onBroadcast)

	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	Logger.Infof("Client %s connected", c.node)
	return c, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Node returns the name of the client
func (c *Client) Node() string {
	return c.node
}

// Source returns the caches of the client
func (c *Client) Source() *cache.Source {
	return c.source
}

// Identifiers returns the identifier map shared with the server
func (c *Client) Identifiers() identifier.IdentifierMap {
	return c.source.Identifiers()
}

// Cache returns the cache of ck, creating it on first access
func (c *Client) Cache(ck cache.CacheKey) (*cache.ValueCache, error) {
	return c.source.Cache(ck)
}

// Find asks all other clients to publish their private entries of ids into
// the shared scope of ck. It returns once the server forwarded the request,
// not when the entries were published.
func (c *Client) Find(ck cache.CacheKey, ids []uint64) error {
	_, err := c.invoke(transport.ChannelControl, common.NewFindMessage(ck.CycleID, ck.CalcConfig, ids))
	return err
}

// ReleaseCaches releases every cache of the cycle on this client, on the
// server and on every other client. Later accesses to a cache of the cycle
// start with an empty cache.
func (c *Client) ReleaseCaches(cycleID uint64) error {
	c.closeCycleWriters(cycleID)
	local := c.source.DropCaches(cycleID)
	_, remote := c.invoke(transport.ChannelControl, common.NewReleaseCacheMessage(cycleID))
	return errors.Join(local, remote)
}

// Close closes the caches (keeping the data of persistent private stores)
// and the transport
func (c *Client) Close() error {
	c.closeWriters(func(cache.CacheKey) bool { return true })
	c.source.Close()
	return c.transport.Close()
}

// --------------------------------------------------------------------------
// Transport Hooks
// --------------------------------------------------------------------------

// onConnect registers the first control connection of every endpoint for
// broadcasts. It runs again after a reconnect.
func (c *Client) onConnect(channel transport.Channel, endpoint string, index int, send transport.SendFunc) error {
	if channel != transport.ChannelControl || index != 0 {
		return nil
	}
	if _, err := invokeRPCRequest(send, common.NewRegisterRequest(c.node), c.serializer); err != nil {
		return fmt.Errorf("failed to register at %s: %w", endpoint, err)
	}
	Logger.Debugf("Client %s registered at %s", c.node, endpoint)
	return nil
}

// onBroadcast handles the broadcasts of the server
func (c *Client) onBroadcast(channel transport.Channel, data []byte) {
	var msg common.Message
	if err := c.serializer.Deserialize(data, &msg); err != nil {
		Logger.Warningf("Ignoring unparseable broadcast on %s channel: %v", channel, err)
		return
	}

	switch msg.MsgType {
	case common.MsgTFind:
		ck := cache.CacheKey{CycleID: msg.CycleID, CalcConfig: msg.CalcConfig}
		n, err := c.source.PublishPrivate(ck, msg.IDs)
		if err != nil {
			Logger.Warningf("Failed to publish %d ids of %s: %v", len(msg.IDs), ck, err)
			return
		}
		if n > 0 {
			Logger.Debugf("Published %d of %d requested ids of %s", n, len(msg.IDs), ck)
		}

	case common.MsgTReleaseCache:
		// the server already deleted the shared scope
		c.closeCycleWriters(msg.CycleID)
		if err := c.source.DropCaches(msg.CycleID); err != nil {
			Logger.Warningf("Failed to release cycle %d: %v", msg.CycleID, err)
		}

	default:
		Logger.Warningf("Ignoring unexpected %s broadcast", msg.MsgType)
	}
}
