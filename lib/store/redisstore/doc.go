// Package redisstore implements store.BinaryStore on redis
// (github.com/redis/go-redis/v9).
//
// Every store is one redis hash, every identifier one field of that hash. A
// bulk put is a single HSET, a bulk get a single HMGET and Delete removes the
// whole hash, so releasing a cache costs one command regardless of its size.
//
// The client is owned by the caller and is never closed by the store. All
// redis errors are reported as store.ErrTransient.
package redisstore
