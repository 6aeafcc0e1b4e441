package base

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// maxReconnectBackoff caps the wait between two reconnect attempts
const maxReconnectBackoff = 2 * time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection based on the provided configuration
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// clientConnection represents a single net connection of one channel
type clientConnection struct {
	conn         net.Conn
	endpoint     string
	channel      transport.Channel
	index        int
	stopCh       chan struct{} // Close signal for the reader goroutine
	requestChans *xsync.MapOf[uint64, chan responseResult]
	connMu       sync.Mutex // Protects the connection itself
	parent       *clientTransport
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   map[transport.Channel][]*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64 // Atomic counter for Round Robin
	nextRequestID atomic.Uint64 // Atomic counter for unique request IDs, 0 is reserved for broadcasts
	stopping      atomic.Bool   // Signals shutdown

	onBroadcast transport.BroadcastHandler
	onConnect   transport.ConnectHook
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector:   connector,
		connections: make(map[transport.Channel][]*clientConnection),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) OnBroadcast(handler transport.BroadcastHandler) {
	t.onBroadcast = handler
}

func (t *clientTransport) OnConnect(hook transport.ConnectHook) {
	t.onConnect = hook
}

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()

	// Store the config
	t.config = config
	t.stopping.Store(false)

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.Transport.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.Transport.ConnectionsPerEndpoint
	}

	// Initialize one pool of client connections per channel
	for _, channel := range transport.Channels {
		for _, endpoint := range config.Transport.Endpoints {
			// Create multiple connections per endpoint
			for i := 0; i < connectionsPerEP; i++ {
				clientConn := &clientConnection{
					conn:         nil, // Will be set by reconnect
					endpoint:     endpoint,
					channel:      channel,
					index:        i,
					stopCh:       make(chan struct{}),
					requestChans: xsync.NewMapOf[uint64, chan responseResult](),
					parent:       t,
				}

				// Establish the initial connection using reconnect
				if err := clientConn.reconnect(); err != nil {
					Logger.Warningf("Failed to connect to %s (%s connection %d/%d): %v", endpoint, channel, i+1, connectionsPerEP, err)
					continue
				}

				// Add to our connections list
				t.connectionsMu.Lock()
				t.connections[channel] = append(t.connections[channel], clientConn)
				t.connectionsMu.Unlock()

				// Start the response reader
				go clientConn.readResponses()

				// Run the connect hook synchronously, the connection is usable once Connect returns
				if err := clientConn.connected(); err != nil {
					t.closeConnections()
					return fmt.Errorf("connect hook for %s (%s connection %d) failed: %w", endpoint, channel, i+1, err)
				}

				Logger.Debugf("Connected to %s (%s connection %d/%d)", endpoint, channel, i+1, connectionsPerEP)
			}
		}

		// Check if we have at least one connection per channel
		t.connectionsMu.RLock()
		n := len(t.connections[channel])
		t.connectionsMu.RUnlock()
		if n == 0 {
			return fmt.Errorf("failed to connect to any endpoint for the %s channel", channel)
		}
	}

	Logger.Infof("Connected to %d endpoints with %d connections per channel using %s transport",
		len(config.Transport.Endpoints), connectionsPerEP, t.connector.GetName())

	return nil
}

func (t *clientTransport) Send(channel transport.Channel, req []byte) (resp []byte, err error) {
	// Retry logic with exponential backoff
	var lastErr error

	// We always try at least once, and up to maxRetries times
	maxRetries := t.config.Transport.RetryCount
	if maxRetries < 1 {
		maxRetries = 1
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50

	for i := 0; i < maxRetries; i++ {
		conn := t.getNextConnection(channel)
		if conn == nil {
			return nil, fmt.Errorf("no active %s connections available", channel)
		}

		// Try with this connection
		data, err := conn.send(t.nextRequestID.Add(1), req)
		if err == nil {
			return data, nil
		}

		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, maxRetries, err)

		if t.stopping.Load() {
			break
		}

		if i < maxRetries-1 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			backoffDuration := time.Duration(jitter) * time.Millisecond
			time.Sleep(backoffDuration)
			backoffMs *= 2
		}
	}

	// All attempts failed
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", maxRetries, lastErr)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection of channel via Round Robin
func (t *clientTransport) getNextConnection(channel transport.Channel) *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	connections := t.connections[channel]
	if len(connections) == 0 {
		return nil
	}

	// Simple Round Robin algorithm
	var index uint64
	if len(connections) == 1 {
		// optimize for single connection
		index = 0
	} else {
		index = t.nextConnIndex.Add(1) % uint64(len(connections))
	}
	return connections[index]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, connections := range t.connections {
		for _, conn := range connections {
			// Signal reader goroutine to stop
			close(conn.stopCh)

			// Close the connection
			conn.connMu.Lock()
			if conn.conn != nil {
				_ = conn.conn.Close()
				conn.conn = nil
			}
			conn.connMu.Unlock()
		}
	}

	// Empty the list
	t.connections = make(map[transport.Channel][]*clientConnection)
}

// stopped reports whether the connection was closed for good
func (c *clientConnection) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// send writes one request and waits for its response or the timeout
func (c *clientConnection) send(requestID uint64, req []byte) ([]byte, error) {
	timeout := c.parent.config.Timeout()

	// Create a channel for the response
	respCh := make(chan responseResult, 1)

	// Register the request
	c.requestChans.Store(requestID, respCh)

	// Ensure we clean up when done
	defer c.requestChans.Delete(requestID)

	// Lock the connection only for writing
	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		return nil, fmt.Errorf("connection is closed")
	}
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err := writeFrame(c.conn, c.channel, requestID, req)
	c.connMu.Unlock()

	if err != nil {
		return nil, err
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		return nil, fmt.Errorf("request timed out")
	case <-c.stopCh:
		return nil, fmt.Errorf("connection is closed")
	}
}

// current returns the current net connection (nil while reconnecting)
func (c *clientConnection) current() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// readResponses reads responses in a loop and distributes them to waiting requests.
// Frames without request id are broadcasts and go to the broadcast handler.
func (c *clientConnection) readResponses() {
	for {
		// Check if we should stop
		if c.stopped() {
			return
		}

		conn := c.current()
		if conn == nil {
			if !c.reconnectLoop() {
				return
			}
			continue
		}

		// Read the response frame (no deadline, the connection may idle while waiting for broadcasts)
		channel, requestID, data, err := readFrame(conn, nil)
		if err != nil {
			if c.stopped() {
				return
			}
			Logger.Warningf("Lost %s connection to %s: %v", c.channel, c.endpoint, err)
			c.failPending(fmt.Errorf("error reading response: %v", err))
			if !c.reconnectLoop() {
				return
			}
			continue
		}

		// Case broadcast
		if requestID == broadcastRequestID {
			if handler := c.parent.onBroadcast; handler != nil {
				go handler(channel, data)
			} else {
				Logger.Warningf("Dropping broadcast on %s channel, no handler registered", channel)
			}
			continue
		}

		// Find the corresponding request channel
		respCh, found := c.requestChans.Load(requestID)
		if !found {
			// Warning for unknown request ID (e.g. the request timed out)
			Logger.Warningf("Received response for unknown request ID %d on %s channel", requestID, channel)
			continue
		}
		select {
		case respCh <- responseResult{data, nil}:
		default:
		}
	}
}

// failPending fails every request waiting on this connection
func (c *clientConnection) failPending(err error) {
	c.requestChans.Range(func(_ uint64, respCh chan responseResult) bool {
		select {
		case respCh <- responseResult{nil, err}:
		default:
		}
		return true
	})
}

// reconnectLoop reconnects with exponential backoff until it succeeds or the
// connection is closed. It reports whether the connection is usable again.
func (c *clientConnection) reconnectLoop() bool {
	backoff := 50 * time.Millisecond
	for {
		if c.stopped() {
			return false
		}
		err := c.reconnect()
		if err == nil {
			Logger.Infof("Reconnected %s connection to %s", c.channel, c.endpoint)
			// the hook may send requests whose responses this goroutine has to read
			go func() {
				if err := c.connected(); err != nil {
					Logger.Errorf("Connect hook for %s connection to %s failed: %v", c.channel, c.endpoint, err)
				}
			}()
			return true
		}
		Logger.Debugf("Failed to reconnect to %s: %v", c.endpoint, err)

		select {
		case <-c.stopCh:
			return false
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, maxReconnectBackoff)
	}
}

// connected runs the connect hook of the transport for this connection
func (c *clientConnection) connected() error {
	hook := c.parent.onConnect
	if hook == nil {
		return nil
	}
	return hook(c.channel, c.endpoint, c.index, func(req []byte) ([]byte, error) {
		return c.send(c.parent.nextRequestID.Add(1), req)
	})
}

// reconnect establishes or restores a connection to the endpoint
func (c *clientConnection) reconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.stopped() {
		return fmt.Errorf("connection is closed")
	}

	// Close the old connection if it exists
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	// Connect to the endpoint
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", c.endpoint, err)
	}

	c.conn = conn
	return nil
}
