package pebble

import (
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/cockroachdb/pebble"
)

// Options configures the pebble engine.
type Options struct {
	// Sync forces an fsync on every commit.
	Sync bool
	// Pebble is passed through to pebble.Open (nil = pebble defaults).
	Pebble *pebble.Options
}

type pebbleImpl struct {
	db     *pebble.DB
	dir    string
	wo     *pebble.WriteOptions
	closed atomic.Bool
}

// Open opens (or creates) a pebble database in dir.
func Open(dir string, opts *Options) (db.Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	popts := opts.Pebble
	if popts == nil {
		popts = &pebble.Options{}
	}

	pdb, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, err
	}

	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &pebbleImpl{db: pdb, dir: dir, wo: wo}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Engine)
// --------------------------------------------------------------------------

func (p *pebbleImpl) Begin() (db.Txn, error) {
	if p.closed.Load() {
		return nil, db.ErrClosed
	}
	// an indexed batch lets the transaction read its own writes
	return &pebbleTxn{engine: p, batch: p.db.NewIndexedBatch()}, nil
}

func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	return db.FeatureDurable&feature == feature
}

func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	size, _ := p.db.EstimateDiskUsage([]byte{0x00}, []byte{0xff})
	return db.DatabaseInfo{
		SizeBytes:         int(size),
		DbType:            db.ImplPebble,
		SupportedFeatures: []db.Feature{db.FeatureDurable},
		Metadata: &struct {
			Dir string `json:"dir"`
		}{Dir: p.dir},
	}
}

func (p *pebbleImpl) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

type pebbleTxn struct {
	engine *pebbleImpl
	batch  *pebble.Batch
}

func (txn *pebbleTxn) Get(table db.Table, key []byte) ([]byte, bool, error) {
	if txn.batch == nil {
		return nil, false, db.ErrTxnDone
	}
	v, closer, err := txn.batch.Get(db.TableKey(table, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	// the returned slice is only valid until the closer is closed
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (txn *pebbleTxn) Count(table db.Table) (uint64, error) {
	if txn.batch == nil {
		return 0, db.ErrTxnDone
	}
	lower, upper := db.TableBounds(table)
	it := txn.batch.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})

	var n uint64
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	if err := it.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (txn *pebbleTxn) Put(table db.Table, key, value []byte) error {
	if txn.batch == nil {
		return db.ErrTxnDone
	}
	return txn.batch.Set(db.TableKey(table, key), value, nil)
}

func (txn *pebbleTxn) Delete(table db.Table, key []byte) error {
	if txn.batch == nil {
		return db.ErrTxnDone
	}
	return txn.batch.Delete(db.TableKey(table, key), nil)
}

func (txn *pebbleTxn) DropTable(table db.Table) error {
	if txn.batch == nil {
		return db.ErrTxnDone
	}
	lower, upper := db.TableBounds(table)
	return txn.batch.DeleteRange(lower, upper, nil)
}

func (txn *pebbleTxn) Commit() error {
	if txn.batch == nil {
		return db.ErrTxnDone
	}
	b := txn.batch
	txn.batch = nil
	if txn.engine.closed.Load() {
		_ = b.Close()
		return db.ErrClosed
	}
	if err := b.Commit(txn.engine.wo); err != nil {
		_ = b.Close()
		return err
	}
	return b.Close()
}

func (txn *pebbleTxn) Abort() {
	if txn.batch == nil {
		return
	}
	_ = txn.batch.Close()
	txn.batch = nil
}
