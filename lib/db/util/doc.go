// Package util provides small building blocks shared by the engines and the
// store worker.
//
// The package contains:
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer (MPSC) queue; it is
//     the request queue of the store worker and the write queue of the
//     write-behind cache
//   - statistics: a SizeHistogram and distribution statistics used by engine
//     GetInfo implementations to report estimates without full scans
package util
