// Package unix implements the Unix domain socket transport of the cache RPC
// system, for clients running on the same machine as the server.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners and accepts connections.
//     A stale socket file of an earlier run is removed before listening.
//
// The default buffer size is 64 KB.
package unix
