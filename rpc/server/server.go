package server

import (
	"errors"
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/lib/store/mstore"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// DefaultFindTimeout is used when the configuration does not set one
const DefaultFindTimeout = 5 * time.Second

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPDefaultServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.FindTimeout == 0 {
		config.FindTimeout = DefaultFindTimeout
	}
	if config.SharedBackend == "" {
		config.SharedBackend = common.BackendMemory
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		node:       uuid.NewString(),
		adapters:   make(map[common.MessageType]IRPCServerAdapter),
		ready:      make(chan struct{}),
	}
}

// RPCServer serves the shared scope of all caches, the identifier map and
// the broadcasts between the connected clients
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	node       string

	backend  *backend
	source   *cache.Source
	peers    *peerSet
	waiters  *waiters
	adapters map[common.MessageType]IRPCServerAdapter

	// closed after init, Serve listens from then on
	ready     chan struct{}
	closeOnce sync.Once
}

func (s *RPCServer) registerAdapter(adapter IRPCServerAdapter) {
	for _, t := range adapter.MessageTypes() {
		s.adapters[t] = adapter
	}
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(peer transport.PeerID, channel transport.Channel, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Decode and check the request
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			protocolErrors.Inc()
			Logger.Warningf("Ignoring unparseable request of peer %d on %s channel: %v", peer, channel, err)
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else if err := msg.Validate(); err != nil {
			protocolErrors.Inc()
			Logger.Warningf("Ignoring invalid request of peer %d: %v", peer, err)
			respMsg = common.NewErrorResponse(err.Error())
		} else if adapter, ok := s.adapters[msg.MsgType]; !ok {
			protocolErrors.Inc()
			Logger.Warningf("Ignoring unexpected %s message of peer %d", msg.MsgType, peer)
			respMsg = common.NewErrorResponse(fmt.Sprintf("unexpected message type: %s", msg.MsgType))
		} else {
			// Let the adapter handle the request
			requests(msg.MsgType).Inc()
			respMsg = adapter.Handle(peer, &msg)
		}

		// Return result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("Failed to serialize %s response: %v", respMsg.MsgType, err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(
				fmt.Sprintf("failed to serialize response: %s", err),
			))
		}
		return val
	})
}

// newLoader creates the miss loader of a new cache
func (s *RPCServer) newLoader(ck cache.CacheKey, shared store.BinaryStore) cache.MissLoader {
	return &findLoader{
		ck:      ck,
		shared:  shared,
		peers:   s.peers,
		waiters: s.waiters,
		timeout: s.config.FindTimeout,
	}
}

func (s *RPCServer) init() error {
	// Init logger
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}

	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	Logger.Infof("Created RPC Server %s", s.node)
	Logger.Infof(s.config.String())

	// Open the storage
	b, err := openBackend(s.config)
	if err != nil {
		return err
	}
	s.backend = b

	ids, err := identifier.NewCachingIdentifierMap(b.ids, identifier.DefaultCacheOptions())
	if err != nil {
		_ = b.close()
		return fmt.Errorf("failed to create identifier cache: %w", err)
	}

	s.peers = newPeerSet(s.transport, s.serializer)
	s.waiters = newWaiters()

	// The private scope of the server is never read by clients
	s.source = cache.NewSource(ids, mstore.NewFactory(), b.shared, cache.SourceOptions{
		Loader: s.newLoader,
	})

	s.registerAdapter(NewCacheServerAdapter(s.source, s.peers, s.waiters))
	s.registerAdapter(NewIdentifierServerAdapter(ids))

	s.peers.start(s.config.BroadcastWorkers)

	// Configure the transport layer
	s.registerTransportHandler()
	s.transport.OnDisconnect(s.peers.remove)

	Logger.Infof("dCache setup completed successfully")
	return nil
}

// Serve starts the RPC server
// This function will also initialize the storage and start the transport
// layer. It blocks until Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	close(s.ready)
	return s.transport.Listen(s.config)
}

// Addr waits until the server listens and returns its address. It returns
// nil if the server does not listen within timeout.
func (s *RPCServer) Addr(timeout time.Duration) net.Addr {
	deadline := time.Now().Add(timeout)
	select {
	case <-s.ready:
	case <-time.After(timeout):
		return nil
	}
	for time.Now().Before(deadline) {
		if addr := s.transport.Addr(); addr != nil {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Source returns the caches of the server, nil before Serve
func (s *RPCServer) Source() *cache.Source {
	return s.source
}

// Close stops the transport, the broadcast workers and the storage
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		errs := []error{s.transport.Close()}
		if s.peers != nil {
			s.peers.close()
		}
		if s.source != nil {
			s.source.Close()
		}
		if s.backend != nil {
			errs = append(errs, s.backend.close())
		}
		err = errors.Join(errs...)
		Logger.Infof("RPC Server %s stopped", s.node)
		common.SyncLoggers()
	})
	return err
}
