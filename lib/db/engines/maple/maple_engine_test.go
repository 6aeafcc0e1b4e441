package maple

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/dCache/lib/db"
	dbtesting "github.com/ValentinKolb/dCache/lib/db/testing"
	"github.com/stretchr/testify/require"
)

func Test(t *testing.T) {
	dbtesting.RunEngineTests(t, "MapleDB", func(t testing.TB) db.Engine {
		return NewMapleDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunEngineBenchmarks(b, "MapleDB", func(t testing.TB) db.Engine {
		return NewMapleDB(nil)
	})
}

func TestSnapshotRejectsOtherVersion(t *testing.T) {
	engine := NewMapleDB(&DBOptions{NumShards: 2})
	var buf bytes.Buffer
	require.NoError(t, engine.(db.Snapshotter).Save(&buf))

	raw := buf.Bytes()
	raw[len(magicNum)] = mapleVersion + 1
	err := engine.(db.Snapshotter).Load(bytes.NewReader(raw))
	require.ErrorContains(t, err, "unsupported version")
}

func TestClosedEngine(t *testing.T) {
	engine := NewMapleDB(nil)
	txn, err := engine.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Put("t", []byte("k"), []byte("v")))

	require.NoError(t, engine.Close())
	require.ErrorIs(t, txn.Commit(), db.ErrClosed)

	_, err = engine.Begin()
	require.ErrorIs(t, err, db.ErrClosed)
}

func TestInfo(t *testing.T) {
	engine := NewMapleDB(nil)
	txn, err := engine.Begin()
	require.NoError(t, err)
	require.NoError(t, txn.Put("a", []byte("k1"), bytes.Repeat([]byte("x"), 100)))
	require.NoError(t, txn.Put("b", []byte("k2"), bytes.Repeat([]byte("x"), 100)))
	require.NoError(t, txn.Commit())

	info := engine.GetInfo()
	require.Equal(t, db.ImplMaple, info.DbType)
	require.Positive(t, info.SizeBytes)
	require.True(t, engine.SupportsFeature(db.FeatureSnapshot|db.FeatureCount))
	require.False(t, engine.SupportsFeature(db.FeatureDurable))
}
