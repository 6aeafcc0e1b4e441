package internal

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Pending Write (uncommitted transaction state)
// --------------------------------------------------------------------------

// Write is one uncommitted change of a key inside a transaction.
type Write struct {
	Value   []byte
	Deleted bool
}

func (w Write) String() string {
	if w.Deleted {
		return "Write{Deleted}"
	}
	return fmt.Sprintf("Write{Value: %d bytes}", len(w.Value))
}

// Overlay holds the uncommitted changes of one table.
// If Dropped is set, the committed content of the table is invisible and is
// removed on commit before Writes are applied.
type Overlay struct {
	Dropped bool
	Writes  map[string]Write
}

// NewOverlay creates an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{Writes: make(map[string]Write)}
}

// --------------------------------------------------------------------------
// Shard Type (partition of a table)
// --------------------------------------------------------------------------

// Shard represents a partition of a table
type Shard struct {
	Data *xsync.MapOf[string, []byte] // Map of committed key-value entries
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, []byte](),
	}
}

// --------------------------------------------------------------------------
// Table Type
// --------------------------------------------------------------------------

// Table is the committed content of one table, split into shards.
type Table struct {
	Shards []*Shard
}

// NewTable creates a table with numShards empty shards.
func NewTable(numShards int) *Table {
	shards := make([]*Shard, numShards)
	for i := range shards {
		shards[i] = NewShard()
	}
	return &Table{Shards: shards}
}

// Shard returns the shard responsible for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Shard(key string) *Shard {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := xxhash.Sum64String(key) >> 7
	return t.Shards[shiftedKey%uint64(len(t.Shards))]
}

// Load returns the committed value for key.
func (t *Table) Load(key string) ([]byte, bool) {
	return t.Shard(key).Data.Load(key)
}

// Size returns the number of committed keys.
func (t *Table) Size() int {
	n := 0
	for _, s := range t.Shards {
		n += s.Data.Size()
	}
	return n
}

// Clear removes every committed key.
func (t *Table) Clear() {
	for _, s := range t.Shards {
		s.Data.Clear()
	}
}

// Range calls fn for every committed key until fn returns false.
func (t *Table) Range(fn func(key string, value []byte) bool) {
	for _, s := range t.Shards {
		cont := true
		s.Data.Range(func(k string, v []byte) bool {
			cont = fn(k, v)
			return cont
		})
		if !cont {
			return
		}
	}
}
