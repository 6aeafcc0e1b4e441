package leveldb

import (
	"testing"

	"github.com/ValentinKolb/dCache/lib/db"
	dbtesting "github.com/ValentinKolb/dCache/lib/db/testing"
	"github.com/stretchr/testify/require"
)

func open(t testing.TB) db.Engine {
	engine, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	return engine
}

func Test(t *testing.T) {
	dbtesting.RunEngineTests(t, "LevelDB", open)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()

	engine, err := Open(dir, nil)
	require.NoError(t, err)
	txn, err := engine.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Put("ids", []byte("k"), []byte("v")))
	require.NoError(t, txn.Commit())
	require.NoError(t, engine.Close())

	engine, err = Open(dir, nil)
	require.NoError(t, err)
	defer engine.Close()

	txn, err = engine.Begin()
	require.NoError(t, err)
	defer txn.Abort()
	n, err := txn.Count("ids")
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}
