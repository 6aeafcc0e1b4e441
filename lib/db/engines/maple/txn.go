package maple

import (
	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/engines/maple/internal"
)

// mapleTxn buffers all writes in per-table overlays. Committed data is only
// touched on Commit, so Abort simply forgets the overlays.
type mapleTxn struct {
	maple    *mapleImpl
	overlays map[db.Table]*internal.Overlay
	done     bool
}

func (txn *mapleTxn) overlay(table db.Table) *internal.Overlay {
	o, ok := txn.overlays[table]
	if !ok {
		o = internal.NewOverlay()
		txn.overlays[table] = o
	}
	return o
}

// committed reports whether key exists in the committed table and is still
// visible to this transaction (i.e. the table was not dropped).
func (txn *mapleTxn) committed(table db.Table, key string) ([]byte, bool) {
	if o, ok := txn.overlays[table]; ok && o.Dropped {
		return nil, false
	}
	t := txn.maple.table(table, false)
	if t == nil {
		return nil, false
	}
	return t.Load(key)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Txn)
// --------------------------------------------------------------------------

func (txn *mapleTxn) Get(table db.Table, key []byte) ([]byte, bool, error) {
	if txn.done {
		return nil, false, db.ErrTxnDone
	}
	if o, ok := txn.overlays[table]; ok {
		if w, ok := o.Writes[string(key)]; ok {
			if w.Deleted {
				return nil, false, nil
			}
			return clone(w.Value), true, nil
		}
	}
	v, ok := txn.committed(table, string(key))
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

// clone copies a value so callers can never modify stored data
func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (txn *mapleTxn) Count(table db.Table) (uint64, error) {
	if txn.done {
		return 0, db.ErrTxnDone
	}

	n := 0
	o, hasOverlay := txn.overlays[table]
	if !hasOverlay || !o.Dropped {
		if t := txn.maple.table(table, false); t != nil {
			n = t.Size()
		}
	}
	if hasOverlay {
		for k, w := range o.Writes {
			_, existed := txn.committed(table, k)
			switch {
			case w.Deleted && existed:
				n--
			case !w.Deleted && !existed:
				n++
			}
		}
	}
	return uint64(n), nil
}

func (txn *mapleTxn) Put(table db.Table, key, value []byte) error {
	if txn.done {
		return db.ErrTxnDone
	}

	// Copy value to prevent memory corruption
	txn.overlay(table).Writes[string(key)] = internal.Write{Value: clone(value)}
	return nil
}

func (txn *mapleTxn) Delete(table db.Table, key []byte) error {
	if txn.done {
		return db.ErrTxnDone
	}
	txn.overlay(table).Writes[string(key)] = internal.Write{Deleted: true}
	return nil
}

func (txn *mapleTxn) DropTable(table db.Table) error {
	if txn.done {
		return db.ErrTxnDone
	}
	o := txn.overlay(table)
	o.Dropped = true
	o.Writes = make(map[string]internal.Write)
	return nil
}

func (txn *mapleTxn) Commit() error {
	if txn.done {
		return db.ErrTxnDone
	}
	txn.done = true
	if txn.maple.closed.Load() {
		return db.ErrClosed
	}
	txn.maple.apply(txn.overlays)
	return nil
}

func (txn *mapleTxn) Abort() {
	txn.done = true
	txn.overlays = nil
}
