// Package testing provides standardised tests and benchmarks for engine
// implementations that satisfy the db.Engine interface.
//
// The package contains:
//   - testing: a conformance suite for the transactional contract (read your
//     own writes, all-or-nothing commit, abort, table isolation, drop, count,
//     snapshots for engines with db.FeatureSnapshot)
//   - benchmark: throughput of single and batched commits and of reads
//
// Example usage:
//
//	factory := func(t testing.TB) db.Engine {
//		engine, err := pebble.Open(t.TempDir(), nil)
//		if err != nil {
//			t.Fatal(err)
//		}
//		return engine
//	}
//
//	dbtesting.RunEngineTests(t, "Pebble", factory)
//	dbtesting.RunEngineBenchmarks(b, "Pebble", factory)
package testing
