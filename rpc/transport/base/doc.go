// Package base provides the protocol independent part of the cache transports.
// Protocol specific connectors (TCP, Unix sockets) plug into it.
//
// Wire format:
//
// Every frame starts with a 20 byte header followed by the payload:
//
//	+---------+------------+--------+---------+
//	| channel | request id | length | payload |
//	| 8 bytes | 8 bytes    | 4 bytes| n bytes |
//	+---------+------------+--------+---------+
//
// A response carries the request id of its request. Frames with request id 0
// are broadcasts pushed by the server, they have no request and expect no
// response.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Keeps a pool of connections per channel and endpoint and
//     balances requests round-robin. A broken connection fails its pending
//     requests and is re-established in the background, the connect hook runs
//     again afterwards.
//
//   - serverTransport: Accepts connections, assigns each a PeerID and handles
//     up to WorkersPerConn requests of a connection concurrently. Push writes
//     broadcast frames to a single peer.
//
// Performance Optimizations:
//
//   - Channels: Get requests never queue behind slow control traffic since each
//     channel uses its own connections.
//
//   - Buffer Pooling: The server uses a sync.Pool to reuse read buffers.
//
//   - Asynchronous Processing: The client correlates responses by request id, so
//     many requests share one connection.
//
//   - Frame Batching: Header and payload are written with net.Buffers in a single
//     write operation.
//
// Connections have no read deadline. Clients keep idle connections open to
// receive broadcasts.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a connection are serialized,
//	responses and pushed broadcasts may be interleaved on the same connection.
package base
