// Package identifier implements the interner: a bijective mapping between
// value keys (lib/key) and compact 64-bit cache identifiers.
//
// Implementations:
//
//   - NewMemoryIdentifierMap: process-local, lock-free maps and an atomic counter.
//
//   - NewPersistentIdentifierMap: two index tables (ids_fwd: canonical key
//     encoding -> id, ids_rev: id -> canonical key encoding) written through a
//     lib/db/worker.Worker. A lookup-or-allocate runs in one worker
//     transaction; the batch variant handles all keys in one transaction. The
//     counter is recovered on first use from the number of entries in the
//     reverse index (next id = count + 1) and is rolled back when a
//     transaction aborts, so identifiers are dense and never reused. A failed
//     index write returns ErrInternFailure, which must not be retried.
//
//   - NewCachingIdentifierMap: bounded caches in front of another map; a
//     ristretto cache for key -> id and an LRU for id -> key.
//
//   - rpc/client.NewRemoteIdentifierMap: asks the server's interner, so all
//     processes attached to one server share one identifier space.
//
// Unknown identifiers resolve to "absent" with a warning log; they can
// legitimately occur for dangling references from remote peers.
package identifier
