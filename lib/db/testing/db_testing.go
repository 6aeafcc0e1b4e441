package testing

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ValentinKolb/dCache/lib/db"
)

// EngineFactory is a function that creates a new, empty instance of an engine.
// Durable engines should place their files in t.TempDir().
type EngineFactory func(t testing.TB) db.Engine

// RunEngineTests runs a comprehensive test suite for a db.Engine implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory(t))
		})

		t.Run("Abort", func(t *testing.T) {
			testAbort(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("Count", func(t *testing.T) {
			testCount(t, factory(t))
		})

		t.Run("DropTable", func(t *testing.T) {
			testDropTable(t, factory(t))
		})

		t.Run("TableIsolation", func(t *testing.T) {
			testTableIsolation(t, factory(t))
		})

		t.Run("FinishedTxn", func(t *testing.T) {
			testFinishedTxn(t, factory(t))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ManyKeys", func(t *testing.T) {
			testManyKeys(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the engine supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, engine db.Engine, feature db.Feature) {
	if !engine.SupportsFeature(feature) {
		t.Skip()
	}
}

// update runs fn inside a transaction and commits it
func update(t testing.TB, engine db.Engine, fn func(txn db.Txn)) {
	t.Helper()
	txn, err := engine.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	fn(txn)
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// get reads a single key in a fresh transaction
func get(t testing.TB, engine db.Engine, table db.Table, key string) ([]byte, bool) {
	t.Helper()
	txn, err := engine.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer txn.Abort()
	v, ok, err := txn.Get(table, []byte(key))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return v, ok
}

func count(t testing.TB, txn db.Txn, table db.Table) uint64 {
	t.Helper()
	n, err := txn.Count(table)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("key"), []byte("value1")))
	})

	result, exists := get(t, engine, "t", "key")
	if !exists {
		t.Errorf("Expected key to exist after commit")
	}
	if !bytes.Equal(result, []byte("value1")) {
		t.Errorf("Expected value %s, got %s", "value1", result)
	}

	// last write wins
	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("key"), []byte("value2")))
	})
	result, _ = get(t, engine, "t", "key")
	if !bytes.Equal(result, []byte("value2")) {
		t.Errorf("Expected value %s, got %s", "value2", result)
	}

	if _, exists = get(t, engine, "t", "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	// mutating a returned value must not change the stored value
	result[0] = 'X'
	result, _ = get(t, engine, "t", "key")
	if !bytes.Equal(result, []byte("value2")) {
		t.Errorf("Stored value was modified through a returned slice: %s", result)
	}

	// empty values are values
	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("empty"), []byte{}))
	})
	if _, exists = get(t, engine, "t", "empty"); !exists {
		t.Errorf("Expected empty value to exist")
	}
}

func testReadYourWrites(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("a"), []byte("1")))
		v, ok, err := txn.Get("t", []byte("a"))
		must(t, err)
		if !ok || string(v) != "1" {
			t.Errorf("Expected uncommitted write to be visible inside the transaction, got %q (%v)", v, ok)
		}

		must(t, txn.Put("t", []byte("a"), []byte("2")))
		v, _, _ = txn.Get("t", []byte("a"))
		if string(v) != "2" {
			t.Errorf("Expected second write to win inside the transaction, got %q", v)
		}

		must(t, txn.Delete("t", []byte("a")))
		if _, ok, _ = txn.Get("t", []byte("a")); ok {
			t.Errorf("Expected deleted key to be invisible inside the transaction")
		}

		must(t, txn.Put("t", []byte("a"), []byte("3")))
	})

	if v, _ := get(t, engine, "t", "a"); string(v) != "3" {
		t.Errorf("Expected operations to apply in order, got %q", v)
	}
}

func testAbort(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("kept"), []byte("v")))
	})

	txn, err := engine.Begin()
	must(t, err)
	must(t, txn.Put("t", []byte("lost-1"), []byte("a")))
	must(t, txn.Put("t", []byte("lost-2"), []byte("b")))
	must(t, txn.Delete("t", []byte("kept")))
	txn.Abort()

	for _, k := range []string{"lost-1", "lost-2"} {
		if _, ok := get(t, engine, "t", k); ok {
			t.Errorf("Expected write to %s to be discarded by Abort", k)
		}
	}
	if _, ok := get(t, engine, "t", "kept"); !ok {
		t.Errorf("Expected delete to be discarded by Abort")
	}
}

func testDelete(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("key"), []byte("value")))
	})
	update(t, engine, func(txn db.Txn) {
		must(t, txn.Delete("t", []byte("key")))
		// deleting a missing key is not an error
		must(t, txn.Delete("t", []byte("missing")))
	})

	if _, ok := get(t, engine, "t", "key"); ok {
		t.Errorf("Expected key to be gone after delete")
	}
}

func testCount(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		if n := count(t, txn, "t"); n != 0 {
			t.Errorf("Expected empty table, got %d", n)
		}
		for i := 0; i < 10; i++ {
			must(t, txn.Put("t", []byte(fmt.Sprintf("k%02d", i)), []byte("v")))
		}
		if n := count(t, txn, "t"); n != 10 {
			t.Errorf("Expected 10 uncommitted keys, got %d", n)
		}
	})

	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("t", []byte("k00"), []byte("overwrite")))
		must(t, txn.Delete("t", []byte("k01")))
		must(t, txn.Delete("t", []byte("missing")))
		must(t, txn.Put("t", []byte("k10"), []byte("new")))
		if n := count(t, txn, "t"); n != 10 {
			t.Errorf("Expected 10 keys after overwrite/delete/insert, got %d", n)
		}
	})

	txn, err := engine.Begin()
	must(t, err)
	defer txn.Abort()
	if n := count(t, txn, "t"); n != 10 {
		t.Errorf("Expected 10 committed keys, got %d", n)
	}
}

func testDropTable(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		for i := 0; i < 5; i++ {
			must(t, txn.Put("t", []byte(fmt.Sprintf("k%d", i)), []byte("v")))
		}
	})

	update(t, engine, func(txn db.Txn) {
		must(t, txn.DropTable("t"))
		if n := count(t, txn, "t"); n != 0 {
			t.Errorf("Expected dropped table to be empty inside the transaction, got %d", n)
		}
		// the table can be reused in the same transaction
		must(t, txn.Put("t", []byte("k0"), []byte("after-drop")))
	})

	txn, err := engine.Begin()
	must(t, err)
	defer txn.Abort()
	if n := count(t, txn, "t"); n != 1 {
		t.Errorf("Expected 1 key after drop and re-insert, got %d", n)
	}
	if v, _, _ := txn.Get("t", []byte("k0")); string(v) != "after-drop" {
		t.Errorf("Expected re-inserted value, got %q", v)
	}
	if _, ok, _ := txn.Get("t", []byte("k1")); ok {
		t.Errorf("Expected dropped key to be gone")
	}
}

func testTableIsolation(t *testing.T, engine db.Engine) {
	defer engine.Close()

	update(t, engine, func(txn db.Txn) {
		must(t, txn.Put("a", []byte("key"), []byte("in-a")))
		must(t, txn.Put("ab", []byte("key"), []byte("in-ab")))
		must(t, txn.Put("b", []byte("key"), []byte("in-b")))
	})

	if v, _ := get(t, engine, "a", "key"); string(v) != "in-a" {
		t.Errorf("Expected table a to hold its own value, got %q", v)
	}

	update(t, engine, func(txn db.Txn) {
		must(t, txn.DropTable("a"))
	})

	// dropping "a" must not touch tables sharing its name as prefix
	if _, ok := get(t, engine, "a", "key"); ok {
		t.Errorf("Expected table a to be empty")
	}
	if v, _ := get(t, engine, "ab", "key"); string(v) != "in-ab" {
		t.Errorf("Expected table ab to survive, got %q", v)
	}
	if v, _ := get(t, engine, "b", "key"); string(v) != "in-b" {
		t.Errorf("Expected table b to survive, got %q", v)
	}
}

func testFinishedTxn(t *testing.T, engine db.Engine) {
	defer engine.Close()

	txn, err := engine.Begin()
	must(t, err)
	must(t, txn.Commit())

	if err := txn.Put("t", []byte("k"), []byte("v")); err == nil {
		t.Errorf("Expected Put after Commit to fail")
	}
	if _, _, err := txn.Get("t", []byte("k")); err == nil {
		t.Errorf("Expected Get after Commit to fail")
	}
	if err := txn.Commit(); err == nil {
		t.Errorf("Expected second Commit to fail")
	}
	// abort after commit is a no-op
	txn.Abort()
}

func testSaveLoad(t *testing.T, factory EngineFactory) {
	source := factory(t)
	defer source.Close()
	requireFeature(t, source, db.FeatureSnapshot)

	update(t, source, func(txn db.Txn) {
		for i := 0; i < 100; i++ {
			must(t, txn.Put("ids", []byte(fmt.Sprintf("k%03d", i)), []byte(fmt.Sprintf("v%03d", i))))
		}
		must(t, txn.Put("other", []byte("x"), []byte("y")))
	})

	var buf bytes.Buffer
	if err := source.(db.Snapshotter).Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory(t)
	defer target.Close()
	update(t, target, func(txn db.Txn) {
		must(t, txn.Put("stale", []byte("k"), []byte("v")))
	})
	if err := target.(db.Snapshotter).Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := get(t, target, "stale", "k"); ok {
		t.Errorf("Expected Load to replace the previous state")
	}
	for i := 0; i < 100; i++ {
		v, ok := get(t, target, "ids", fmt.Sprintf("k%03d", i))
		if !ok || string(v) != fmt.Sprintf("v%03d", i) {
			t.Errorf("Expected k%03d to be restored, got %q (%v)", i, v, ok)
		}
	}
	if v, _ := get(t, target, "other", "x"); string(v) != "y" {
		t.Errorf("Expected second table to be restored, got %q", v)
	}

	if err := target.(db.Snapshotter).Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Expected Load of garbage to fail")
	}
}

func testManyKeys(t *testing.T, engine db.Engine) {
	defer engine.Close()

	const n = 2000
	update(t, engine, func(txn db.Txn) {
		for i := 0; i < n; i++ {
			must(t, txn.Put("t", []byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("value-%d", i))))
		}
	})

	txn, err := engine.Begin()
	must(t, err)
	defer txn.Abort()

	if c := count(t, txn, "t"); c != n {
		t.Errorf("Expected %d keys, got %d", n, c)
	}
	for i := 0; i < n; i += 97 {
		v, ok, err := txn.Get("t", []byte(fmt.Sprintf("key-%d", i)))
		must(t, err)
		if !ok || string(v) != fmt.Sprintf("value-%d", i) {
			t.Errorf("Expected key-%d to hold value-%d, got %q", i, i, v)
		}
	}
}
