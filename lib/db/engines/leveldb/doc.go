// Package leveldb implements a durable db.Engine on top of
// github.com/syndtr/goleveldb using leveldb transactions.
package leveldb
