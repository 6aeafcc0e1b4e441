// Package server implements the dCache server. It keeps the shared scope of
// every cache and the identifier map, and relays broadcasts between the
// connected clients.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes one decoded request.
//
//   - NewCacheServerAdapter: Serves Get, Put and Delete on the shared scope,
//     forwards Find and ReleaseCache to the other clients and registers
//     clients for broadcasts.
//
//   - NewIdentifierServerAdapter: Serves Identify and Resolve, so that all
//     clients see one identifier space.
//
//   - NewRPCServer: Factory function creating a configured server with the specified
//     transport and serializer mechanisms.
//
// Miss loading:
//
//	A Get of an id that is absent from the shared scope broadcasts a Find to
//	every registered client and waits until the missing ids were put by a
//	client or the FindTimeout elapsed. Ids still missing are reported absent.
//
// Shared backends:
//
//   - memory: in-process stores, lost on restart
//   - maple: in-memory engine behind a worker, snapshotted to the data
//     directory on shutdown if one is set
//   - pebble, leveldb: persistent stores in the data directory
//   - redis: an external redis server, keys carry the configured prefix
//
// With a data directory the identifier map is persistent as well, whatever
// shared backend is configured.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  TimeoutSecond: 5,
//	  FindTimeout:   2 * time.Second,
//	  SharedBackend: common.BackendPebble,
//	  DataDir:       "/var/lib/dcache",
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Requests are processed concurrently, per connection and across
//	connections. Serve must be called only once.
package server
