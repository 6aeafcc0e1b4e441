// Package rpc connects the cache nodes of dCache. A server keeps the shared
// scope of every cache and the identifier map, clients keep their private
// scopes and reach the server over one of the transports.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol, configuration structures, and logging.
//
//   - transport: Multiplexed framing over stream sockets with pluggable
//     implementations (TCP, Unix sockets). Servers can push broadcasts to
//     connected clients.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: The cache client. It attaches a local cache.Source to a server and
//     answers the Find and ReleaseCache broadcasts of the server.
//
//   - server: The cache server, with adapters that map requests onto the shared
//     scope and the identifier map, and the miss loader that asks the connected
//     clients for absent values.
package rpc
