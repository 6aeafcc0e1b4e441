package client

import (
	"fmt"
	"slices"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
)

// NewRPCStoreFactory creates a factory of stores that keep their data on the
// server. Store names must have the form built by cache.StoreName, and only
// the shared scope can be kept remotely. The transport must be connected
// before the first request.
func NewRPCStoreFactory(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) store.Factory {
	adapter := rpcClientAdapter{
		config:     config,
		transport:  transport,
		serializer: serializer,
	}
	return func(name string) (store.BinaryStore, error) {
		ck, scope, err := cache.ParseStoreName(name)
		if err != nil {
			return nil, store.WrapError(store.RetCInvalidOperation, "rpc store", err)
		}
		if scope != cache.Shared {
			return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("rpc store %s: only the shared scope is kept remotely", name))
		}
		return &rpcStore{rpcClientAdapter: adapter, ck: ck}, nil
	}
}

type rpcStore struct {
	rpcClientAdapter
	ck cache.CacheKey
}

// wrap marks every failed request as transient, the server keeps serving
func (s *rpcStore) wrap(op string, err error) error {
	return store.WrapError(store.RetCTransient, fmt.Sprintf("rpc %s %s", op, s.ck), err)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) Get(id uint64) (value []byte, loaded bool, err error) {
	values, err := s.GetMany([]uint64{id})
	if err != nil {
		return nil, false, err
	}
	value, loaded = values[id]
	return value, loaded, nil
}

func (s *rpcStore) GetMany(ids []uint64) (map[uint64][]byte, error) {
	values := make(map[uint64][]byte, len(ids))
	if len(ids) == 0 {
		return values, nil
	}

	req := common.NewGetRequest(s.ck.CycleID, s.ck.CalcConfig, ids)
	resp, err := s.invoke(transport.ChannelQuery, req)
	if err != nil {
		return nil, s.wrap("get", err)
	}
	if len(resp.Payloads) != len(ids) {
		return nil, s.wrap("get", fmt.Errorf("expected %d payloads, got %d", len(ids), len(resp.Payloads)))
	}

	// empty payloads mark absent entries
	for i, id := range ids {
		if len(resp.Payloads[i]) > 0 {
			values[id] = resp.Payloads[i]
		}
	}
	return values, nil
}

func (s *rpcStore) Put(id uint64, value []byte) error {
	return s.PutMany(map[uint64][]byte{id: value})
}

func (s *rpcStore) PutMany(values map[uint64][]byte) error {
	if len(values) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(values))
	for id, v := range values {
		if len(v) == 0 {
			return store.NewError(store.RetCInvalidOperation, fmt.Sprintf("rpc put %s: empty payload for id %d", s.ck, id))
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	payloads := make([][]byte, len(ids))
	for i, id := range ids {
		payloads[i] = values[id]
	}

	req := common.NewPutRequest(s.ck.CycleID, s.ck.CalcConfig, ids, payloads)
	if _, err := s.invoke(transport.ChannelControl, req); err != nil {
		return s.wrap("put", err)
	}
	return nil
}

func (s *rpcStore) Delete() error {
	req := common.NewDeleteRequest(s.ck.CycleID, s.ck.CalcConfig)
	if _, err := s.invoke(transport.ChannelControl, req); err != nil {
		return s.wrap("delete", err)
	}
	return nil
}
