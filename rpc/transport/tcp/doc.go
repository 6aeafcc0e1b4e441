// Package tcp implements the TCP socket transport of the cache RPC system. It
// provides TCP implementations of the base package's connector interfaces.
//
// Key Components:
//
//   - clientConnector: TCP implementation of base.IClientConnector
//
//   - serverConnector: TCP implementation of base.IServerConnector
//
// Accepted and dialed connections are upgraded with the configured socket
// buffer sizes, TCP_NODELAY, keep alive and linger settings.
//
// The default server buffer size is 512 KB.
package tcp
