package server

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/transport"
)

// NewCacheServerAdapter creates the adapter for the cache operations. It
// serves the shared scope of the caches of source, wakes waiting loads on
// Put and forwards Find and ReleaseCache broadcasts to the peers.
func NewCacheServerAdapter(source *cache.Source, peers *peerSet, waiters *waiters) IRPCServerAdapter {
	return &cacheServerAdapterImpl{
		source:  source,
		peers:   peers,
		waiters: waiters,
	}
}

type cacheServerAdapterImpl struct {
	source  *cache.Source
	peers   *peerSet
	waiters *waiters
}

func (adapter *cacheServerAdapterImpl) MessageTypes() []common.MessageType {
	return []common.MessageType{
		common.MsgTGet,
		common.MsgTPut,
		common.MsgTDelete,
		common.MsgTFind,
		common.MsgTReleaseCache,
		common.MsgTRegister,
	}
}

func (adapter *cacheServerAdapterImpl) Handle(peer transport.PeerID, req *common.Message) *common.Message {
	ck := cache.CacheKey{CycleID: req.CycleID, CalcConfig: req.CalcConfig}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTGet:
		c, err := adapter.source.Cache(ck)
		if err != nil {
			return common.NewGetResponse(nil, nil, err)
		}
		found, err := c.GetIDs(cache.Shared, req.IDs)
		return common.NewGetResponse(req.IDs, found, err)

	case common.MsgTPut:
		c, err := adapter.source.Cache(ck)
		if err != nil {
			return common.NewPutResponse(err)
		}
		payloads := make(map[uint64][]byte, len(req.IDs))
		for i, id := range req.IDs {
			payloads[id] = req.Payloads[i]
		}
		if err := c.PutIDs(cache.Shared, payloads); err != nil {
			return common.NewPutResponse(err)
		}
		adapter.waiters.signal(ck, req.IDs)
		return common.NewPutResponse(nil)

	case common.MsgTDelete:
		c, err := adapter.source.Cache(ck)
		if err != nil {
			return common.NewDeleteResponse(err)
		}
		return common.NewDeleteResponse(c.Store(cache.Shared).Delete())

	case common.MsgTFind:
		// a client asks the other peers directly
		n := adapter.peers.broadcast(req, peer)
		findBroadcasts.Inc()
		Logger.Debugf("Forwarded find for %d ids of %s to %d peers", len(req.IDs), ck, n)
		return common.NewFindResponse(nil)

	case common.MsgTReleaseCache:
		err := adapter.source.ReleaseCaches(req.CycleID)
		n := adapter.peers.broadcast(common.NewReleaseCacheMessage(req.CycleID), peer)
		Logger.Infof("Released cycle %d, notified %d peers", req.CycleID, n)
		return common.NewReleaseCacheResponse(err)

	case common.MsgTRegister:
		node := "unknown"
		if len(req.Keys) > 0 {
			node = string(req.Keys[0])
		}
		adapter.peers.register(peer, node)
		return common.NewRegisterResponse(nil)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC CacheAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
