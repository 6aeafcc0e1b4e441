// Package transport defines the interfaces for RPC communication between cache
// clients and the cache server. All transport implementations fulfill the same
// contract, so the client and server do not depend on the network protocol.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Separating traffic into channels with their own connections
//   - Pushing broadcast frames from the server to connected clients
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management, request sending and received broadcasts.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests, routes them to the handler and pushes broadcasts to peers.
//
//   - Channel: ChannelQuery carries Get requests, ChannelControl carries everything
//     else. Broadcasts are pushed on ChannelControl.
//
//   - PeerID: Identifies one accepted connection. The server uses it to address
//     broadcasts and to forget clients that disconnected.
package transport
