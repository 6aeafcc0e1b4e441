// Package pstore implements store.BinaryStore on top of a db.Engine.
//
// Every store is one table of the engine. All access goes through a
// worker.Worker: each operation becomes one request, executed on the worker
// goroutine inside a transaction that may be shared with other requests
// queued at the same time. Bulk operations are a single request, so they are
// applied all-or-nothing.
//
// Worker errors are translated into store errors:
//
//	worker.ErrStopped        -> store.ErrStopped
//	worker.ErrCommitFailed   -> store.ErrInternal (the engine rejected the commit)
//	anything else            -> store.ErrTransient (only this transaction was aborted)
//
// Example:
//
//	engine, _ := pebble.Open("/var/lib/dcache", nil)
//	w := worker.New(engine, worker.WithName("shared"))
//	stores := pstore.NewFactory(w)
//	s, _ := stores("777/Default/shared")
//	_ = s.Put(42, payload)
package pstore
