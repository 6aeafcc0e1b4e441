package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// defaultWorkersPerConn is used when the configuration does not set a limit
const defaultWorkersPerConn = 64

// ErrClosed is returned by operations on a closed transport
var ErrClosed = errors.New("transport closed")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConnection is one accepted connection. Responses and pushed
// broadcasts share the connection, writes are serialized by mu.
type serverConnection struct {
	id   transport.PeerID
	conn net.Conn
	mu   sync.Mutex
}

// write writes one frame under the write lock
func (c *serverConnection) write(timeout time.Duration, channel transport.Channel, requestID uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %v", err)
		}
	}
	return writeFrame(c.conn, channel, requestID, data)
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector    IServerConnector
	handler      transport.ServerHandleFunc
	onDisconnect transport.DisconnectFunc
	config       common.ServerConfig
	bufferPool   *sync.Pool
	bufferSize   int

	// mu guards listener and closed, so that no connection is accepted
	// (and added to handlers) after Close
	mu       sync.Mutex
	listener net.Listener
	closed   bool
	handlers sync.WaitGroup

	connections *xsync.MapOf[transport.PeerID, *serverConnection]
	nextPeerID  atomic.Uint64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool.
// bufferSize is the default read buffer per request, ServerTransportConfig.BufferSize overrides it.
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:   connector,
		bufferSize:  bufferSize,
		connections: xsync.NewMapOf[transport.PeerID, *serverConnection](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) OnDisconnect(fn transport.DisconnectFunc) {
	t.onDisconnect = fn
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	if config.Transport.BufferSize > 0 {
		t.bufferSize = config.Transport.BufferSize
	}
	bufferSize := t.bufferSize
	t.bufferPool = &sync.Pool{
		New: func() interface{} {
			return make([]byte, bufferSize)
		},
	}

	// minimum one worker per connection
	workers := config.Transport.WorkersPerConn
	if workers <= 0 {
		workers = defaultWorkersPerConn
	}

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = listener.Close()
		return ErrClosed
	}
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), workers)

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		t.handlers.Add(1)
		t.mu.Unlock()

		// Handle the connection in a goroutine
		go t.handleConnection(conn, workers)
	}
}

func (t *serverTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) Push(peer transport.PeerID, channel transport.Channel, msg []byte) error {
	c, ok := t.connections.Load(peer)
	if !ok {
		return fmt.Errorf("peer %d is not connected", peer)
	}
	return c.write(t.timeout(), channel, broadcastRequestID, msg)
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.mu.Unlock()

	t.connections.Range(func(_ transport.PeerID, c *serverConnection) bool {
		_ = c.conn.Close()
		return true
	})
	t.handlers.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// timeout is the write timeout of responses and pushed frames
func (t *serverTransport) timeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

// handleConnection handles incoming requests for one connection.
// There is no read deadline: clients keep idle connections open to receive
// broadcasts.
func (t *serverTransport) handleConnection(conn net.Conn, maxWorkers int) {
	c := &serverConnection{
		id:   transport.PeerID(t.nextPeerID.Add(1)),
		conn: conn,
	}
	t.connections.Store(c.id, c)
	Logger.Debugf("Accepted connection %d from %s", c.id, conn.RemoteAddr())

	defer func() {
		t.connections.Delete(c.id)
		_ = conn.Close()
		if t.onDisconnect != nil {
			t.onDisconnect(c.id)
		}
		t.handlers.Done()
	}()

	timeout := t.timeout()

	// Create a semaphore to limit concurrent workers for this connection
	// The buffered channel acts as a counting semaphore
	workerSemaphore := make(chan struct{}, maxWorkers)

	// Create a wait group to wait for all workers to finish
	var wg sync.WaitGroup

	// Handler function that processes requests in worker goroutines
	handleResponse := func(channel transport.Channel, requestID uint64, data []byte) {
		// When done, release the semaphore and mark worker as done
		defer func() {
			<-workerSemaphore // Release semaphore slot
			wg.Done()         // Mark worker as done
		}()

		// Process the request
		start := time.Now()
		resp := t.handler(c.id, channel, data)
		Logger.Debugf("Processed %s request %d of connection %d in %s", channel, requestID, c.id, time.Since(start))

		// Write the response with the same requestID
		if err := c.write(timeout, channel, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response to connection %d: %v", c.id, err)
		}
	}

	// Function to handle incoming requests
	handleRequest := func() error {
		// Get a buffer from the pool
		buf := t.bufferPool.Get().([]byte)

		// Read the frame with requestID
		channel, requestID, data, err := readFrame(conn, buf)

		// Error reading frame
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		// Clients never push, a frame without request id cannot be answered
		if requestID == broadcastRequestID {
			t.bufferPool.Put(buf)
			Logger.Warningf("Ignoring frame without request id from connection %d", c.id)
			return nil
		}

		// Acquire a slot in the semaphore (blocks if maxWorkers is reached)
		// This is the key mechanism that limits the number of concurrent workers
		workerSemaphore <- struct{}{}

		// Increment the wait group counter
		wg.Add(1)

		// Process in a goroutine
		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(channel, requestID, data)
		}()

		return nil
	}

	// Handle requests in a loop
	for {
		// Handle request
		err := handleRequest()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("Connection %d closed by client", c.id)
			break
		}

		// Case closed by the server
		if err != nil && (errors.Is(err, net.ErrClosed) || t.isClosed()) {
			break
		}

		// Case error: log and close connection
		if err != nil {
			Logger.Errorf("Error handling request of connection %d: %v", c.id, err)
			break
		}
	}

	// Wait for all workers to finish before closing the connection
	// This ensures we don't lose any in-progress work
	wg.Wait()
}
