package server

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/identifier"
	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
)

// NewIdentifierServerAdapter creates the adapter that gives clients access
// to the identifier map of the server
func NewIdentifierServerAdapter(ids identifier.IdentifierMap) IRPCServerAdapter {
	return &identifierServerAdapterImpl{ids: ids}
}

type identifierServerAdapterImpl struct {
	ids identifier.IdentifierMap
}

func (adapter *identifierServerAdapterImpl) MessageTypes() []common.MessageType {
	return []common.MessageType{common.MsgTIdentify, common.MsgTResolve}
}

func (adapter *identifierServerAdapterImpl) Handle(_ transport.PeerID, req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTIdentify:
		keys := make([]key.ValueKey, len(req.Keys))
		for i, b := range req.Keys {
			k, err := key.Decode(b)
			if err != nil {
				return common.NewIdentifyResponse(nil, fmt.Errorf("key %d: %w", i, err))
			}
			keys[i] = k
		}
		ids, err := adapter.ids.IdentifyMany(keys)
		return common.NewIdentifyResponse(ids, err)

	case common.MsgTResolve:
		resolved, err := adapter.ids.ResolveMany(req.IDs)
		if err != nil {
			return common.NewResolveResponse(nil, nil, err)
		}
		// unknown ids get an empty key
		keys := make([][]byte, len(req.IDs))
		for i, id := range req.IDs {
			if k, ok := resolved[id]; ok {
				keys[i] = k.Bytes()
			} else {
				keys[i] = []byte{}
			}
		}
		return common.NewResolveResponse(req.IDs, keys, nil)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IdentifierAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
