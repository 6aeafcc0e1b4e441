package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ValentinKolb/dCache/lib/store"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every redis command.
const DefaultTimeout = 5 * time.Second

var ErrNilClient = errors.New("redisstore: nil client")

// Options configures the redis stores of one factory.
type Options struct {
	// Prefix is prepended to every store name to build the hash key.
	Prefix string
	// Timeout bounds every command (0 = DefaultTimeout).
	Timeout time.Duration
}

type storeImpl struct {
	rdb     goredis.UniversalClient
	hash    string
	timeout time.Duration
}

// NewRedisStore creates a store kept in the redis hash with the given key.
// Every identifier is one field of the hash.
func NewRedisStore(client goredis.UniversalClient, hash string, timeout time.Duration) (store.BinaryStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &storeImpl{rdb: client, hash: hash, timeout: timeout}, nil
}

// NewFactory returns a factory creating one hash per store name.
func NewFactory(client goredis.UniversalClient, opts Options) store.Factory {
	return func(name string) (store.BinaryStore, error) {
		return NewRedisStore(client, opts.Prefix+name, opts.Timeout)
	}
}

func (s *storeImpl) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func field(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func wrap(op string, err error) error {
	return store.WrapError(store.RetCTransient, "redis "+op, err)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(id uint64) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	b, err := s.rdb.HGet(ctx, s.hash, field(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrap("hget", err)
	}
	return b, true, nil
}

func (s *storeImpl) GetMany(ids []uint64) (map[uint64][]byte, error) {
	out := make(map[uint64][]byte, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = field(id)
	}

	ctx, cancel := s.ctx()
	defer cancel()
	values, err := s.rdb.HMGet(ctx, s.hash, fields...).Result()
	if err != nil {
		return nil, wrap("hmget", err)
	}
	for i, v := range values {
		// missing fields are nil, present ones are strings
		if str, ok := v.(string); ok {
			out[ids[i]] = []byte(str)
		}
	}
	return out, nil
}

func (s *storeImpl) Put(id uint64, value []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.HSet(ctx, s.hash, field(id), value).Err(); err != nil {
		return wrap("hset", err)
	}
	return nil
}

func (s *storeImpl) PutMany(values map[uint64][]byte) error {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(values))
	for id, v := range values {
		m[field(id)] = v
	}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.HSet(ctx, s.hash, m).Err(); err != nil {
		return wrap("hset", err)
	}
	return nil
}

// Delete removes the hash.
func (s *storeImpl) Delete() error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Del(ctx, s.hash).Err(); err != nil {
		return wrap("del", err)
	}
	return nil
}
