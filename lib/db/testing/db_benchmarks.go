package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dCache/lib/db"
)

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, name string, factory EngineFactory) {
	b.Run("PutSingle", func(b *testing.B) {
		benchmarkPut(b, factory(b), 1)
	})

	b.Run("PutBatch64", func(b *testing.B) {
		benchmarkPut(b, factory(b), 64)
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory(b))
	})
}

func benchmarkPut(b *testing.B, engine db.Engine, batch int) {
	defer engine.Close()
	value := make([]byte, 128)

	b.ResetTimer()
	for i := 0; i < b.N; i += batch {
		txn, err := engine.Begin()
		if err != nil {
			b.Fatal(err)
		}
		for j := 0; j < batch; j++ {
			_ = txn.Put("bench", []byte(fmt.Sprintf("key-%d", i+j)), value)
		}
		if err := txn.Commit(); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, engine db.Engine) {
	defer engine.Close()

	const keys = 1000
	update(b, engine, func(txn db.Txn) {
		for i := 0; i < keys; i++ {
			_ = txn.Put("bench", []byte(fmt.Sprintf("key-%d", i)), make([]byte, 128))
		}
	})

	txn, err := engine.Begin()
	if err != nil {
		b.Fatal(err)
	}
	defer txn.Abort()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = txn.Get("bench", []byte(fmt.Sprintf("key-%d", i%keys)))
	}
}
