// Package pebble implements a durable db.Engine on top of
// github.com/cockroachdb/pebble. A transaction is an indexed batch, so reads
// observe the transaction's own writes; DropTable is a range deletion over
// the table's key prefix.
package pebble
