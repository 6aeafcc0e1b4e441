package server

import (
	"sync"

	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/ValentinKolb/dCache/rpc/serializer"
	"github.com/ValentinKolb/dCache/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// defaultBroadcastWorkers is used when the configuration does not set a pool size
const defaultBroadcastWorkers = 4

// broadcastQueueSize bounds the number of queued broadcast frames
const broadcastQueueSize = 1024

type broadcastJob struct {
	peer transport.PeerID
	msg  []byte
}

// peerSet keeps the connections that registered for broadcasts and sends
// broadcasts to them with a pool of workers. Sending is best effort: a failed
// push is logged and counted, other peers are not affected.
type peerSet struct {
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer

	// peer -> node name
	peers *xsync.MapOf[transport.PeerID, string]

	jobs chan broadcastJob
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newPeerSet(t transport.IRPCServerTransport, s serializer.IRPCSerializer) *peerSet {
	return &peerSet{
		transport:  t,
		serializer: s,
		peers:      xsync.NewMapOf[transport.PeerID, string](),
		jobs:       make(chan broadcastJob, broadcastQueueSize),
		stop:       make(chan struct{}),
	}
}

// start starts the broadcast workers
func (p *peerSet) start(workers int) {
	if workers <= 0 {
		workers = defaultBroadcastWorkers
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

func (p *peerSet) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case job := <-p.jobs:
			if err := p.transport.Push(job.peer, transport.ChannelControl, job.msg); err != nil {
				broadcastFailures.Inc()
				Logger.Warningf("Failed to send broadcast to peer %d: %v", job.peer, err)
			}
		}
	}
}

func (p *peerSet) register(peer transport.PeerID, node string) {
	p.peers.Store(peer, node)
	Logger.Infof("Registered peer %d (node %s)", peer, node)
}

func (p *peerSet) remove(peer transport.PeerID) {
	if node, ok := p.peers.LoadAndDelete(peer); ok {
		Logger.Infof("Removed peer %d (node %s)", peer, node)
	}
}

func (p *peerSet) size() int {
	return p.peers.Size()
}

// broadcast queues msg for every registered peer except one (0 = none) and
// returns the number of queued frames. It does not wait for the frames to
// be sent.
func (p *peerSet) broadcast(msg *common.Message, except transport.PeerID) int {
	data, err := p.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("Failed to serialize %s broadcast: %v", msg.MsgType, err)
		return 0
	}

	queued := 0
	p.peers.Range(func(peer transport.PeerID, _ string) bool {
		if peer == except {
			return true
		}
		select {
		case p.jobs <- broadcastJob{peer: peer, msg: data}:
			queued++
			return true
		case <-p.stop:
			return false
		}
	})
	return queued
}

// close stops the workers, queued broadcasts are dropped
func (p *peerSet) close() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}
