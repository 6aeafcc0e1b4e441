package client

import (
	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/ValentinKolb/dCache/lib/cache/deferred"
)

// writer is the write strategy of one cache key
type writer struct {
	deferred.Deferred
	close func()
}

// Session returns a new session on the cache of ck. Depending on the
// options, writes of the session are applied directly or by a background
// writer (write-behind), and concurrent reads of the same key share one
// fetch (read coalescing). All sessions of one cache key share the writer.
//
// Values that are still queued by the write-behind writer can not be found
// by other nodes; flush the session before they have to be discoverable.
func (c *Client) Session(ck cache.CacheKey) (deferred.Session, error) {
	if w, ok := c.writers.Load(ck); ok {
		return w.NewSession(), nil
	}

	vc, err := c.source.Cache(ck)
	if err != nil {
		return nil, err
	}
	w, err := c.newWriter(vc)
	if err != nil {
		return nil, err
	}
	actual, loaded := c.writers.LoadOrStore(ck, w)
	if loaded {
		w.close()
	}
	return actual.NewSession(), nil
}

func (c *Client) newWriter(vc *cache.ValueCache) (*writer, error) {
	var underlying cache.Cache = vc
	if c.opts.ReadBuffer > 0 {
		r, err := deferred.NewReadCoalescing(vc, c.opts.ReadBuffer)
		if err != nil {
			return nil, err
		}
		underlying = r
	}

	if c.opts.WriteBehind {
		wb := deferred.NewWriteBehind(underlying, c.opts.WriteBehindBatch)
		return &writer{Deferred: wb, close: wb.Close}, nil
	}
	return &writer{Deferred: deferred.NewDirectWrite(underlying), close: func() {}}, nil
}

// closeWriters applies everything queued for the cache keys matching and
// forgets their writers
func (c *Client) closeWriters(match func(ck cache.CacheKey) bool) {
	c.writers.Range(func(ck cache.CacheKey, w *writer) bool {
		if match(ck) {
			c.writers.Delete(ck)
			w.close()
		}
		return true
	})
}

func (c *Client) closeCycleWriters(cycleID uint64) {
	c.closeWriters(func(ck cache.CacheKey) bool { return ck.CycleID == cycleID })
}
