package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings (0 keeps the OS default)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific settings, ignored by unix sockets
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // 0 keeps the OS default
}

// ServerTransportConfig configures the listening side of a transport
type ServerTransportConfig struct {
	Endpoint       string
	WorkersPerConn int // concurrent requests per connection
	BufferSize     int // read buffer per request
	SocketConf
	TCPConf
}

// ClientTransportConfig configures the dialing side of a transport
type ClientTransportConfig struct {
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int // per channel
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// Backend selects the store that keeps the shared scope on the server
type Backend string

const (
	BackendMemory  Backend = "memory"
	BackendPebble  Backend = "pebble"
	BackendLevelDB Backend = "leveldb"
	BackendRedis   Backend = "redis"
	BackendMaple   Backend = "maple"
)

// ParseBackend validates a backend name
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(s)); b {
	case BackendMemory, BackendPebble, BackendLevelDB, BackendRedis, BackendMaple:
		return b, nil
	default:
		return "", fmt.Errorf("invalid shared backend: %s. must be one of memory, maple, pebble, leveldb, redis", s)
	}
}

// ServerConfig holds all configuration parameters of a cache server.
type ServerConfig struct {
	Transport ServerTransportConfig

	// write timeout of responses and broadcasts
	TimeoutSecond int64

	// Miss loader: how long a Get waits for peers to answer a Find
	FindTimeout time.Duration

	// Size of the pool that sends broadcasts to peers
	BroadcastWorkers int

	// Storage of the shared scope and the identifier map
	SharedBackend Backend
	DataDir       string
	RedisAddr     string
	RedisPrefix   string

	// Prometheus metrics endpoint (empty disables it)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// PersistentIdentifiers reports whether identifiers survive a restart. This
// is the case whenever a data directory is configured.
func (c *ServerConfig) PersistentIdentifiers() bool {
	return c.DataDir != ""
}

// Validate checks the configuration for missing or inconsistent settings
func (c *ServerConfig) Validate() error {
	if c.Transport.Endpoint == "" {
		return fmt.Errorf("no endpoint configured")
	}
	if _, err := ParseBackend(string(c.SharedBackend)); err != nil {
		return err
	}
	if (c.SharedBackend == BackendPebble || c.SharedBackend == BackendLevelDB) && c.DataDir == "" {
		return fmt.Errorf("the %s backend needs a data directory", c.SharedBackend)
	}
	if c.SharedBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("the redis backend needs a redis address")
	}
	if c.FindTimeout < 0 {
		return fmt.Errorf("find timeout must not be negative")
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers per Connection", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Broadcast Workers", strconv.Itoa(c.BroadcastWorkers))
	addField("Find Timeout", c.FindTimeout.String())

	// Storage
	addSection("Storage")
	addField("Shared Backend", string(c.SharedBackend))
	addField("Persistent Identifiers", strconv.FormatBool(c.PersistentIdentifiers()))
	if c.DataDir != "" {
		addField("Data Directory", c.DataDir)
	}
	if c.SharedBackend == BackendRedis {
		addField("Redis Address", c.RedisAddr)
		addField("Redis Prefix", c.RedisPrefix)
	}

	// Logging and metrics
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Transport     ClientTransportConfig
	TimeoutSecond int
}

// Timeout returns the request timeout (0 means no timeout)
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
