package testing

import (
	"fmt"
	"testing"
)

// RunStoreBenchmarks measures single and bulk access of a backend.
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			s := open(b, factory(b), "bench")
			value := make([]byte, 128)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				must(b, s.Put(uint64(i%4096)+1, value))
			}
		})

		b.Run("PutMany64", func(b *testing.B) {
			s := open(b, factory(b), "bench")
			batch := make(map[uint64][]byte, 64)
			for i := 0; i < 64; i++ {
				batch[uint64(i+1)] = make([]byte, 128)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				must(b, s.PutMany(batch))
			}
		})

		b.Run("Get", func(b *testing.B) {
			s := open(b, factory(b), "bench")
			for i := 0; i < 1024; i++ {
				must(b, s.Put(uint64(i+1), []byte(fmt.Sprint(i))))
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := s.Get(uint64(i%1024) + 1); err != nil {
					b.Fatal(err)
				}
			}
		})
	})
}
