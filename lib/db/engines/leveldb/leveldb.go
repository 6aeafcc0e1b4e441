package leveldb

import (
	"errors"
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Options configures the leveldb engine.
type Options struct {
	// LevelDB is passed through to leveldb.OpenFile (nil = defaults).
	LevelDB *opt.Options
}

type leveldbImpl struct {
	db     *leveldb.DB
	dir    string
	closed atomic.Bool
}

// Open opens (or creates) a leveldb database in dir.
func Open(dir string, opts *Options) (db.Engine, error) {
	if opts == nil {
		opts = &Options{}
	}
	ldb, err := leveldb.OpenFile(dir, opts.LevelDB)
	if err != nil {
		return nil, err
	}
	return &leveldbImpl{
		db:  ldb,
		dir: dir,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.Engine)
// --------------------------------------------------------------------------

// Begin opens a leveldb transaction. Only one transaction can be open at a
// time; a second Begin blocks until the first one is finished.
func (l *leveldbImpl) Begin() (db.Txn, error) {
	if l.closed.Load() {
		return nil, db.ErrClosed
	}
	tr, err := l.db.OpenTransaction()
	if err != nil {
		return nil, err
	}
	return &leveldbTxn{tr: tr}, nil
}

func (l *leveldbImpl) SupportsFeature(feature db.Feature) bool {
	return db.FeatureDurable&feature == feature
}

func (l *leveldbImpl) GetInfo() db.DatabaseInfo {
	sizes, _ := l.db.SizeOf([]util.Range{{Start: []byte{0x00}, Limit: []byte{0xff}}})
	return db.DatabaseInfo{
		SizeBytes:         int(sizes.Sum()),
		DbType:            db.ImplLevelDB,
		SupportedFeatures: []db.Feature{db.FeatureDurable},
		Metadata: &struct {
			Dir string `json:"dir"`
		}{Dir: l.dir},
	}
}

func (l *leveldbImpl) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.db.Close()
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

type leveldbTxn struct {
	tr *leveldb.Transaction
}

func (txn *leveldbTxn) Get(table db.Table, key []byte) ([]byte, bool, error) {
	if txn.tr == nil {
		return nil, false, db.ErrTxnDone
	}
	v, err := txn.tr.Get(db.TableKey(table, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (txn *leveldbTxn) Count(table db.Table) (uint64, error) {
	if txn.tr == nil {
		return 0, db.ErrTxnDone
	}
	lower, upper := db.TableBounds(table)
	it := txn.tr.NewIterator(&util.Range{Start: lower, Limit: upper}, nil)
	defer it.Release()

	var n uint64
	for it.Next() {
		n++
	}
	return n, it.Error()
}

func (txn *leveldbTxn) Put(table db.Table, key, value []byte) error {
	if txn.tr == nil {
		return db.ErrTxnDone
	}
	return txn.tr.Put(db.TableKey(table, key), value, nil)
}

func (txn *leveldbTxn) Delete(table db.Table, key []byte) error {
	if txn.tr == nil {
		return db.ErrTxnDone
	}
	return txn.tr.Delete(db.TableKey(table, key), nil)
}

// DropTable deletes the keys of the table one by one; leveldb has no range
// deletion.
func (txn *leveldbTxn) DropTable(table db.Table) error {
	if txn.tr == nil {
		return db.ErrTxnDone
	}
	lower, upper := db.TableBounds(table)
	it := txn.tr.NewIterator(&util.Range{Start: lower, Limit: upper}, nil)

	var keys [][]byte
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		keys = append(keys, k)
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return err
	}

	for _, k := range keys {
		if err := txn.tr.Delete(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func (txn *leveldbTxn) Commit() error {
	if txn.tr == nil {
		return db.ErrTxnDone
	}
	tr := txn.tr
	txn.tr = nil
	if err := tr.Commit(); err != nil {
		tr.Discard()
		return err
	}
	return nil
}

func (txn *leveldbTxn) Abort() {
	if txn.tr == nil {
		return
	}
	txn.tr.Discard()
	txn.tr = nil
}
