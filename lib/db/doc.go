// Package db provides a standardized interface for embedded transactional
// byte stores ("engines"). The cache treats the engine as opaque: it only
// begins transactions, reads and writes opaque byte keys inside named
// tables, and commits or aborts.
//
// Key Components:
//
//   - Engine Interface: hands out transactions (Begin), reports capabilities
//     (SupportsFeature) and metadata (GetInfo).
//
//   - Txn Interface: an all-or-nothing unit of work with Get, Put, Delete,
//     Count and DropTable over named tables. Reads observe the transaction's
//     own uncommitted writes.
//
//   - Tables: a table is a logical key space. Engines with a flat key space
//     emulate tables with the helpers TableKey, TableBounds and UserKey
//     (physical key = table name + 0x00 + user key).
//
//   - Feature Flags: FeatureDurable, FeatureSnapshot and FeatureCount
//     let callers discover what an engine offers at runtime.
//
// Thread Confinement:
//
// Engines do not have to be safe for concurrent transactions. All engine
// access in this module goes through the single goroutine of a
// lib/db/worker.Worker, which owns the handle and batches queued requests
// into one transaction.
//
// Related Packages:
//
//   - engines/maple: sharded in-memory engine with snapshot support
//   - engines/pebble: durable LSM engine on top of cockroachdb/pebble
//   - engines/leveldb: durable engine on top of syndtr/goleveldb
//   - testing: the shared conformance suite every engine runs (RunEngineTests)
//   - util: the lock-free MPSC queue and size statistics
//   - worker: the single-threaded persistent store worker
package db
