// Package testing provides the conformance suite and benchmarks shared by all
// store.BinaryStore backends.
//
// Example usage:
//
//	factory := func(t testing.TB) store.Factory {
//		return mstore.NewFactory()
//	}
//
//	storetesting.RunStoreTests(t, "Memory", factory)
package testing
