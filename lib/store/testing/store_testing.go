package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dCache/lib/store"
)

// StoreFactory returns a store.Factory over a new, empty backend.
// Stores created by the returned factory share that backend.
type StoreFactory func(t testing.TB) store.Factory

// RunStoreTests runs the conformance suite for a store.BinaryStore backend.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, open(t, factory(t), "s"))
		})

		t.Run("LastWriteWins", func(t *testing.T) {
			testLastWriteWins(t, open(t, factory(t), "s"))
		})

		t.Run("GetMany", func(t *testing.T) {
			testGetMany(t, open(t, factory(t), "s"))
		})

		t.Run("PutCopiesValue", func(t *testing.T) {
			testPutCopiesValue(t, open(t, factory(t), "s"))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, open(t, factory(t), "s"))
		})

		t.Run("Isolation", func(t *testing.T) {
			testIsolation(t, factory(t))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, open(t, factory(t), "s"))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func open(t testing.TB, f store.Factory, name string) store.BinaryStore {
	s, err := f(name)
	if err != nil {
		t.Fatalf("creating store %q failed: %v", name, err)
	}
	return s
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func expect(t testing.TB, s store.BinaryStore, id uint64, want []byte) {
	t.Helper()
	got, ok, err := s.Get(id)
	must(t, err)
	if want == nil {
		if ok {
			t.Errorf("expected id %d to be absent, got %v", id, got)
		}
		return
	}
	if !ok {
		t.Errorf("expected id %d to be present", id)
		return
	}
	if !bytes.Equal(got, want) {
		t.Errorf("id %d: expected %v, got %v", id, want, got)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, s store.BinaryStore) {
	expect(t, s, 1, nil)
	must(t, s.Put(1, []byte{0x01, 0x02}))
	expect(t, s, 1, []byte{0x01, 0x02})
	expect(t, s, 2, nil)
}

func testLastWriteWins(t *testing.T, s store.BinaryStore) {
	must(t, s.Put(7, []byte("v1")))
	must(t, s.Put(7, []byte("v2")))
	expect(t, s, 7, []byte("v2"))

	must(t, s.PutMany(map[uint64][]byte{7: []byte("v3")}))
	expect(t, s, 7, []byte("v3"))
}

func testGetMany(t *testing.T, s store.BinaryStore) {
	values := map[uint64][]byte{}
	for i := uint64(1); i <= 20; i++ {
		values[i] = []byte(fmt.Sprintf("value-%d", i))
	}
	must(t, s.PutMany(values))

	got, err := s.GetMany([]uint64{1, 5, 20, 21, 1000})
	must(t, err)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries (absent ids omitted), got %d", len(got))
	}
	for _, id := range []uint64{1, 5, 20} {
		if !bytes.Equal(got[id], values[id]) {
			t.Errorf("id %d: expected %s, got %s", id, values[id], got[id])
		}
	}

	empty, err := s.GetMany(nil)
	must(t, err)
	if len(empty) != 0 {
		t.Errorf("expected no entries, got %d", len(empty))
	}
	must(t, s.PutMany(nil))
}

func testPutCopiesValue(t *testing.T, s store.BinaryStore) {
	v := []byte("original")
	must(t, s.Put(1, v))
	copy(v, "modified")
	expect(t, s, 1, []byte("original"))
}

func testDelete(t *testing.T, s store.BinaryStore) {
	must(t, s.PutMany(map[uint64][]byte{1: []byte("a"), 2: []byte("b")}))
	must(t, s.Delete())
	expect(t, s, 1, nil)
	expect(t, s, 2, nil)

	// usable again, like a new store
	must(t, s.Put(1, []byte("c")))
	expect(t, s, 1, []byte("c"))

	// deleting an empty store is fine
	must(t, s.Delete())
	must(t, s.Delete())
}

func testIsolation(t *testing.T, f store.Factory) {
	private := open(t, f, "777/Default/private")
	shared := open(t, f, "777/Default/shared")
	other := open(t, f, "778/Default/shared")

	must(t, private.Put(1, []byte{0x01, 0x02}))
	must(t, other.Put(1, []byte("other")))
	expect(t, private, 1, []byte{0x01, 0x02})
	expect(t, shared, 1, nil)

	must(t, other.Delete())
	expect(t, private, 1, []byte{0x01, 0x02})
	expect(t, other, 1, nil)

	// a second handle with the same name sees the same data
	again := open(t, f, "777/Default/private")
	expect(t, again, 1, []byte{0x01, 0x02})
}

func testConcurrentWriters(t *testing.T, s store.BinaryStore) {
	const perWriter = 100
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := uint64(w*perWriter + i + 1)
				if err := s.Put(id, []byte(fmt.Sprint(id))); err != nil {
					t.Errorf("put %d failed: %v", id, err)
				}
			}
		}(w)
	}
	wg.Wait()

	ids := make([]uint64, 0, 2*perWriter)
	for i := 1; i <= 2*perWriter; i++ {
		ids = append(ids, uint64(i))
	}
	got, err := s.GetMany(ids)
	must(t, err)
	if len(got) != 2*perWriter {
		t.Fatalf("expected %d entries, got %d", 2*perWriter, len(got))
	}
	for id, v := range got {
		if string(v) != fmt.Sprint(id) {
			t.Errorf("id %d: unexpected value %s", id, v)
		}
	}
}
