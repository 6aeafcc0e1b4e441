package pstore

import (
	"encoding/binary"
	"errors"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/worker"
	"github.com/ValentinKolb/dCache/lib/store"
)

// TablePrefix is prepended to store names to build table names, so stores
// never collide with other tables of the same engine.
const TablePrefix = "store/"

type storeImpl struct {
	worker *worker.Worker
	table  db.Table
}

// NewPersistentStore creates a store over one table of w's engine. Several
// stores may share one worker. The worker is started by the first operation
// if it was not started before.
func NewPersistentStore(w *worker.Worker, table db.Table) store.BinaryStore {
	return &storeImpl{worker: w, table: table}
}

// NewFactory returns a factory that maps every store name to its own table
// of w's engine.
func NewFactory(w *worker.Worker) store.Factory {
	return func(name string) (store.BinaryStore, error) {
		if name == "" {
			return nil, store.NewError(store.RetCInvalidOperation, "empty store name")
		}
		return NewPersistentStore(w, db.Table(TablePrefix+name)), nil
	}
}

func encodeID(id uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), id)
}

// submit runs fn on the worker and classifies worker errors
func (s *storeImpl) submit(op string, fn worker.Request) error {
	err := s.worker.Submit(fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, worker.ErrStopped):
		return store.WrapError(store.RetCStopped, op, err)
	case errors.Is(err, worker.ErrCommitFailed):
		return store.WrapError(store.RetCInternalError, op, err)
	default:
		return store.WrapError(store.RetCTransient, op, err)
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(id uint64) (value []byte, loaded bool, err error) {
	err = s.submit("get", func(txn *worker.Txn) error {
		value, loaded, err = txn.Get(s.table, encodeID(id))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return value, loaded, nil
}

// GetMany reads all ids inside one transaction.
func (s *storeImpl) GetMany(ids []uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	err := s.submit("get many", func(txn *worker.Txn) error {
		for _, id := range ids {
			v, ok, err := txn.Get(s.table, encodeID(id))
			if err != nil {
				return err
			}
			if ok {
				out[id] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *storeImpl) Put(id uint64, value []byte) error {
	return s.submit("put", func(txn *worker.Txn) error {
		return txn.Put(s.table, encodeID(id), value)
	})
}

// PutMany writes all entries inside one transaction.
func (s *storeImpl) PutMany(values map[uint64][]byte) error {
	if len(values) == 0 {
		return nil
	}
	return s.submit("put many", func(txn *worker.Txn) error {
		for id, v := range values {
			if err := txn.Put(s.table, encodeID(id), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete drops the table.
func (s *storeImpl) Delete() error {
	return s.submit("delete", func(txn *worker.Txn) error {
		return txn.DropTable(s.table)
	})
}
