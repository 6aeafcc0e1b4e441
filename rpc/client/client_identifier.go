package client

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
)

// NewRemoteIdentifierMap creates an identifier map that forwards every call
// to the identifier map of the server. All clients of one server thus share
// one identifier space. Wrap it with identifier.NewCachingIdentifierMap to
// avoid a round trip per key.
//
// A failed Identify is reported as identifier.ErrInternFailure: the client
// cannot tell whether the server assigned identifiers before it failed.
func NewRemoteIdentifierMap(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) identifier.IdentifierMap {
	return &rpcIdentifierMap{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}
}

type rpcIdentifierMap struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see identifier.IdentifierMap)
// --------------------------------------------------------------------------

func (m *rpcIdentifierMap) Identify(k key.ValueKey) (uint64, error) {
	ids, err := m.IdentifyMany([]key.ValueKey{k})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (m *rpcIdentifierMap) IdentifyMany(keys []key.ValueKey) ([]uint64, error) {
	if len(keys) == 0 {
		return []uint64{}, nil
	}

	encoded := make([][]byte, len(keys))
	for i, k := range keys {
		encoded[i] = k.Bytes()
	}

	resp, err := m.invoke(transport.ChannelControl, common.NewIdentifyRequest(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identifier.ErrInternFailure, err)
	}
	if len(resp.IDs) != len(keys) {
		return nil, fmt.Errorf("%w: expected %d ids, got %d", identifier.ErrInternFailure, len(keys), len(resp.IDs))
	}
	return resp.IDs, nil
}

func (m *rpcIdentifierMap) Resolve(id uint64) (key.ValueKey, bool, error) {
	keys, err := m.ResolveMany([]uint64{id})
	if err != nil {
		return key.ValueKey{}, false, err
	}
	k, ok := keys[id]
	return k, ok, nil
}

func (m *rpcIdentifierMap) ResolveMany(ids []uint64) (map[uint64]key.ValueKey, error) {
	keys := make(map[uint64]key.ValueKey, len(ids))
	if len(ids) == 0 {
		return keys, nil
	}

	resp, err := m.invoke(transport.ChannelControl, common.NewResolveRequest(ids))
	if err != nil {
		return nil, err
	}
	if len(resp.Keys) != len(ids) {
		return nil, fmt.Errorf("RPC resolve - expected %d keys, got %d", len(ids), len(resp.Keys))
	}

	for i, id := range ids {
		// empty keys mark unknown identifiers
		if len(resp.Keys[i]) == 0 {
			Logger.Warningf("Unknown identifier %d", id)
			continue
		}
		k, err := key.Decode(resp.Keys[i])
		if err != nil {
			return nil, fmt.Errorf("RPC resolve - identifier %d: %w", id, err)
		}
		keys[id] = k
	}
	return keys, nil
}
