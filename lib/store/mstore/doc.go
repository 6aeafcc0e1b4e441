// Package mstore implements store.BinaryStore in memory, on top of a
// lock-free concurrent map (github.com/puzpuzpuz/xsync/v3).
//
// Payloads are copied on Put and on Get. Handles of one factory with the same
// name share their data. Delete drops the data of the name, so a released
// cache leaves nothing behind.
package mstore
