package mstore

import (
	"bytes"

	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/puzpuzpuz/xsync/v3"
)

type entries = *xsync.MapOf[uint64, []byte]

// storeImpl is a handle on the entries of one name. The entries are looked up
// by every operation, so all handles of a name see the same data and a deleted
// name is forgotten until it is written again.
type storeImpl struct {
	name   string
	stores *xsync.MapOf[string, entries]
}

func newStores() *xsync.MapOf[string, entries] {
	return xsync.NewMapOf[string, entries]()
}

func newEntries() entries {
	return xsync.NewMapOf[uint64, []byte]()
}

// NewMemoryStore creates a new, empty in-memory store.
// The data is lost with the process.
func NewMemoryStore() store.BinaryStore {
	return &storeImpl{stores: newStores()}
}

// NewFactory returns a factory of memory stores. Handles with the same name
// share their data; Delete releases the memory of a name.
func NewFactory() store.Factory {
	return newFactory(newStores())
}

func newFactory(stores *xsync.MapOf[string, entries]) store.Factory {
	return func(name string) (store.BinaryStore, error) {
		return &storeImpl{name: name, stores: stores}, nil
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(id uint64) ([]byte, bool, error) {
	data, ok := s.stores.Load(s.name)
	if !ok {
		return nil, false, nil
	}
	v, ok := data.Load(id)
	if !ok {
		return nil, false, nil
	}
	// the caller owns the returned slice
	return bytes.Clone(v), true, nil
}

func (s *storeImpl) GetMany(ids []uint64) (map[uint64][]byte, error) {
	return store.GetEach(s.Get, ids)
}

func (s *storeImpl) Put(id uint64, value []byte) error {
	data, _ := s.stores.LoadOrCompute(s.name, newEntries)
	// the caller may reuse its buffer
	data.Store(id, bytes.Clone(value))
	return nil
}

func (s *storeImpl) PutMany(values map[uint64][]byte) error {
	return store.PutEach(s.Put, values)
}

func (s *storeImpl) Delete() error {
	s.stores.Delete(s.name)
	return nil
}
