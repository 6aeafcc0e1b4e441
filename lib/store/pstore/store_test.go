package pstore

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/engines/leveldb"
	"github.com/ValentinKolb/dCache/lib/db/engines/maple"
	"github.com/ValentinKolb/dCache/lib/db/engines/pebble"
	"github.com/ValentinKolb/dCache/lib/db/worker"
	"github.com/ValentinKolb/dCache/lib/store"
	storetesting "github.com/ValentinKolb/dCache/lib/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factoryFor(open func(t testing.TB) db.Engine) storetesting.StoreFactory {
	return func(t testing.TB) store.Factory {
		w := worker.New(open(t))
		t.Cleanup(func() { _ = w.Stop() })
		return NewFactory(w)
	}
}

var (
	mapleFactory = factoryFor(func(testing.TB) db.Engine {
		return maple.NewMapleDB(nil)
	})
	pebbleFactory = factoryFor(func(t testing.TB) db.Engine {
		engine, err := pebble.Open(t.TempDir(), nil)
		require.NoError(t, err)
		return engine
	})
	levelFactory = factoryFor(func(t testing.TB) db.Engine {
		engine, err := leveldb.Open(t.TempDir(), nil)
		require.NoError(t, err)
		return engine
	})
)

func TestPersistentStore(t *testing.T) {
	storetesting.RunStoreTests(t, "Maple", mapleFactory)
	storetesting.RunStoreTests(t, "Pebble", pebbleFactory)
	storetesting.RunStoreTests(t, "LevelDB", levelFactory)
}

func BenchmarkPersistentStore(b *testing.B) {
	storetesting.RunStoreBenchmarks(b, "Pebble", pebbleFactory)
}

func TestLazyStart(t *testing.T) {
	w := worker.New(maple.NewMapleDB(nil))
	defer w.Stop()
	s := NewPersistentStore(w, "t")

	assert.Equal(t, worker.StateCreated, w.State())
	require.NoError(t, s.Put(1, []byte("a")))
	assert.Equal(t, worker.StateStarted, w.State())
}

func TestSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	engine, err := pebble.Open(dir, nil)
	require.NoError(t, err)
	w := worker.New(engine)
	s, err := NewFactory(w)("777/Default/shared")
	require.NoError(t, err)
	require.NoError(t, s.PutMany(map[uint64][]byte{1: []byte("a"), 2: []byte("b")}))
	require.NoError(t, w.Stop())

	engine, err = pebble.Open(dir, nil)
	require.NoError(t, err)
	w = worker.New(engine)
	defer w.Stop()
	s, err = NewFactory(w)("777/Default/shared")
	require.NoError(t, err)
	v, ok, err := s.Get(2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), v)
}

func TestErrors(t *testing.T) {
	w := worker.New(maple.NewMapleDB(nil))
	s := NewPersistentStore(w, "t")
	require.NoError(t, w.Stop())

	err := s.Put(1, []byte("a"))
	assert.ErrorIs(t, err, store.ErrStopped)
	assert.ErrorIs(t, err, worker.ErrStopped)

	_, err = NewFactory(w)("")
	assert.ErrorIs(t, err, store.ErrInvalid)
}

// brokenEngine fails every read of a transaction
type brokenEngine struct{ db.Engine }

type brokenTxn struct{ db.Txn }

func (e brokenEngine) Begin() (db.Txn, error) {
	txn, err := e.Engine.Begin()
	return brokenTxn{txn}, err
}

func (brokenTxn) Get(db.Table, []byte) ([]byte, bool, error) {
	return nil, false, errors.New("read error")
}

func TestTransientFailure(t *testing.T) {
	w := worker.New(brokenEngine{maple.NewMapleDB(nil)})
	defer w.Stop()
	s := NewPersistentStore(w, "t")

	_, _, err := s.Get(1)
	assert.ErrorIs(t, err, store.ErrTransient)

	// the worker keeps serving
	require.NoError(t, s.Put(1, []byte("a")))
}
