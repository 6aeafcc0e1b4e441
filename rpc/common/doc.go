// Package common provides the data structures shared by the cache client,
// the cache server and the transports. It defines the protocol message,
// the configuration structures and the logging backend.
//
// The package focuses on:
//   - Message protocol definition for client/server communication
//   - Configuration structures for client and server components
//   - A zap backed logger factory for Dragonboat's logging facade
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Every message
//     carries a type tag. Cache operations add the cache key (cycle id and
//     calculation configuration) and aligned lists of identifiers and payloads.
//     Factory methods create the request and response of every operation.
//
//   - MessageType: Enumeration of all supported operations. Get, Put and
//     Delete work on the shared scope of one cache key. Find and ReleaseCache
//     are broadcasts the server pushes to registered clients. Register,
//     Identify and Resolve manage the session and the shared identifier space.
//
//   - ServerConfig: Configuration of a cache server: transport settings, the
//     backend of the shared scope, the Find timeout and the broadcast pool.
//
//   - ClientConfig: Configuration of client components, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: InitLoggers installs a logger factory whose loggers write through
//     go.uber.org/zap and sets the level of every named logger.
//
// Absent values:
//
//	A Get response lists a payload for every requested identifier. An empty
//	payload marks an absent entry; stored payloads are never empty because
//	every value codec emits at least one byte.
package common
