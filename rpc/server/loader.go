package server

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/store"
	"github.com/ValentinKolb/dCache/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Single-Flight Waits
// --------------------------------------------------------------------------

// pendingIDs holds the open waits of one cache key. The first waiter for an
// identifier creates its channel, later waiters join it, a Put closes and
// removes it. refs counts the loads using the struct and is only changed
// inside waiters.caches.Compute.
type pendingIDs struct {
	refs int

	mu  sync.Mutex
	ids map[uint64]chan struct{}
}

// join returns the wait channels of ids
func (p *pendingIDs) join(ids []uint64) []chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	chans := make([]chan struct{}, len(ids))
	for i, id := range ids {
		ch, ok := p.ids[id]
		if !ok {
			ch = make(chan struct{})
			p.ids[id] = ch
		}
		chans[i] = ch
	}
	return chans
}

// signal wakes every waiter of ids
func (p *pendingIDs) signal(ids []uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range ids {
		if ch, ok := p.ids[id]; ok {
			close(ch)
			delete(p.ids, id)
			n++
		}
	}
	return n
}

// waiters holds the pendingIDs of every cache key with a running load
type waiters struct {
	caches *xsync.MapOf[cache.CacheKey, *pendingIDs]
}

func newWaiters() *waiters {
	return &waiters{caches: xsync.NewMapOf[cache.CacheKey, *pendingIDs]()}
}

// acquire returns the pendingIDs of ck, creating them for the first load
func (w *waiters) acquire(ck cache.CacheKey) *pendingIDs {
	p, _ := w.caches.Compute(ck, func(p *pendingIDs, loaded bool) (*pendingIDs, bool) {
		if !loaded {
			p = &pendingIDs{ids: make(map[uint64]chan struct{})}
		}
		p.refs++
		return p, false
	})
	return p
}

// release drops one reference, the last one removes the pendingIDs of ck
func (w *waiters) release(ck cache.CacheKey) {
	w.caches.Compute(ck, func(p *pendingIDs, loaded bool) (*pendingIDs, bool) {
		if !loaded {
			return nil, true
		}
		p.refs--
		return p, p.refs <= 0
	})
}

// signal wakes the waiters of ids in ck, if there are any
func (w *waiters) signal(ck cache.CacheKey, ids []uint64) {
	if p, ok := w.caches.Load(ck); ok {
		if n := p.signal(ids); n > 0 {
			Logger.Debugf("Put for %s woke %d waits", ck, n)
		}
	}
}

// --------------------------------------------------------------------------
// Miss Loader
// --------------------------------------------------------------------------

// findLoader is the miss loader of the shared scope of one cache on the
// server. It asks all peers for the missing ids with a Find broadcast, waits
// until all of them were put or the timeout passed and then reads the shared
// store again. Values that are still missing are absent, not an error.
type findLoader struct {
	ck      cache.CacheKey
	shared  store.BinaryStore
	peers   *peerSet
	waiters *waiters
	timeout time.Duration
}

func (l *findLoader) LoadMissing(ids []uint64) (map[uint64][]byte, error) {
	if len(ids) == 0 || l.peers.size() == 0 {
		return nil, nil
	}

	// join before broadcasting, so no Put can be missed
	pending := l.waiters.acquire(l.ck)
	defer l.waiters.release(l.ck)
	chans := pending.join(ids)

	n := l.peers.broadcast(common.NewFindMessage(l.ck.CycleID, l.ck.CalcConfig, ids), 0)
	findBroadcasts.Inc()
	Logger.Debugf("Sent find for %d ids of %s to %d peers", len(ids), l.ck, n)

	if n > 0 && l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
	wait:
		for _, ch := range chans {
			select {
			case <-ch:
			case <-timer.C:
				findTimeouts.Inc()
				break wait
			}
		}
	}

	// a put may land right after the wait ended
	return l.shared.GetMany(ids)
}
