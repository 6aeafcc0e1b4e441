// Package store defines BinaryStore, the storage contract of one cache scope:
// byte payloads addressed by 64-bit cache identifiers, with last-write-wins
// semantics and a Delete that destroys all entries at once (used when the
// cache of a cycle is released).
//
// The package focuses on:
//   - A unified interface (BinaryStore) implemented identically by every backend
//   - Base implementations (GetEach, PutEach) of the bulk operations as loops
//     over the single-item operations, for backends without native bulk access
//   - A structured error type (Error) with return codes
//
// Implementations:
//
//	- Memory Store (mstore): a lock-free concurrent map, Delete clears it.
//	  Available in "github.com/ValentinKolb/dCache/lib/store/mstore".
//
//	- Persistent Store (pstore): one table of a db.Engine, accessed through a
//	  worker.Worker so that only one goroutine ever touches the engine. The
//	  worker is started lazily by the first operation. Delete drops the table.
//	  Available in "github.com/ValentinKolb/dCache/lib/store/pstore".
//
//	- Redis Store (redisstore): a redis hash per store, Delete removes the hash.
//	  Available in "github.com/ValentinKolb/dCache/lib/store/redisstore".
//
//	- Remote Store: forwards every operation to a dCache server, see
//	  "github.com/ValentinKolb/dCache/rpc/client".
//
// Error System:
//
// Store failures are reported as *Error. Errors can be classified with
// errors.Is against the sentinels, for example
//
//	if errors.Is(err, store.ErrTransient) {
//		// the transaction was aborted, the store is still usable
//	}
//
// The shared test suite for all backends lives in
// "github.com/ValentinKolb/dCache/lib/store/testing".
package store
