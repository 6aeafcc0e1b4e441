package db

import (
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple   Implementation = "maple"
	ImplPebble  Implementation = "pebble"
	ImplLevelDB Implementation = "leveldb"
)

// Table names a logical key space inside one engine. Tables are created
// implicitly on first write and removed as a whole with Txn.DropTable.
type Table string

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureDurable  Feature = 1 << iota // Committed data survives a process restart
	FeatureSnapshot                     // Support for Save/Load snapshots
	FeatureCount                        // Count is cheaper than a full scan
)

func (f Feature) String() string {
	switch f {
	case FeatureDurable:
		return "Durable"
	case FeatureSnapshot:
		return "Snapshot"
	case FeatureCount:
		return "Count"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// ErrClosed is returned by engines and transactions after Close.
var ErrClosed = errors.New("db: engine closed")

// ErrTxnDone is returned by every Txn method after Commit or Abort.
var ErrTxnDone = errors.New("db: transaction already finished")

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine is an embedded transactional byte store. An engine hands out
// transactions but is otherwise opaque; callers never read or write outside
// of a transaction.
//
// Engines are NOT required to support concurrent transactions. The store
// worker (lib/db/worker) is the only component that calls Begin and it never
// holds more than one open transaction per engine.
type Engine interface {

	// Begin starts a new transaction. Reads inside the transaction observe
	// the transaction's own uncommitted writes.
	Begin() (txn Txn, err error)

	// SupportsFeature checks if the engine supports the specified feature(s).
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the engine.
	GetInfo() (info DatabaseInfo)

	// Close releases the engine. Open transactions must be finished first.
	Close() (err error)
}

// Txn is a single all-or-nothing unit of work. Operations are applied in the
// order they are issued. After Commit or Abort the transaction is finished
// and every further call returns ErrTxnDone.
type Txn interface {

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key in the given table.
	// The boolean return value indicates whether a value for the key was found.
	Get(table Table, key []byte) (value []byte, loaded bool, err error)

	// Count returns the number of keys stored in the given table.
	Count(table Table) (n uint64, err error)

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or overwrites the value for a key in the given table.
	Put(table Table, key, value []byte) (err error)

	// Delete removes a key from the given table. Deleting a missing key is not an error.
	Delete(table Table, key []byte) (err error)

	// DropTable removes every key of the given table.
	DropTable(table Table) (err error)

	// --------------------------------------------------------------------------
	// Completion
	// --------------------------------------------------------------------------

	// Commit atomically applies all writes of the transaction.
	Commit() (err error)

	// Abort discards all writes of the transaction. Abort after Commit is a no-op.
	Abort()
}

// Snapshotter is implemented by engines that support FeatureSnapshot.
type Snapshotter interface {
	// Save persists the committed state of the engine to the provided io.Writer.
	Save(w io.Writer) (err error)
	// Load replaces the committed state with data provided by an io.Reader.
	Load(r io.Reader) (err error)
}

// --------------------------------------------------------------------------
// Key Helpers
// --------------------------------------------------------------------------

// tableSep separates the table name from the user key. Table names must not
// contain it.
const tableSep = 0x00

// TableKey returns the physical key of key inside table. Engines with a flat
// key space use it to emulate tables.
func TableKey(table Table, key []byte) []byte {
	out := make([]byte, 0, len(table)+1+len(key))
	out = append(out, table...)
	out = append(out, tableSep)
	return append(out, key...)
}

// TableBounds returns the half open physical key range [lower, upper) that
// holds every key of table.
func TableBounds(table Table) (lower, upper []byte) {
	lower = append([]byte(table), tableSep)
	upper = append([]byte(table), tableSep+1)
	return lower, upper
}

// UserKey strips the table prefix from a physical key.
func UserKey(table Table, physical []byte) []byte {
	return physical[len(table)+1:]
}
