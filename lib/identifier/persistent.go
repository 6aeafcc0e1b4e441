package identifier

import (
	"fmt"

	"github.com/ValentinKolb/dCache/lib/db"
	"github.com/ValentinKolb/dCache/lib/db/worker"
	"github.com/ValentinKolb/dCache/lib/key"
)

const (
	// TableForward maps canonical key encodings to identifiers.
	TableForward db.Table = "ids_fwd"
	// TableReverse maps identifiers to canonical key encodings.
	TableReverse db.Table = "ids_rev"
)

// persistentImpl stores both index tables through a store worker. All index
// reads and writes happen inside worker transactions.
type persistentImpl struct {
	worker *worker.Worker

	// next is the identifier handed out on the next allocation. It is only
	// read and written by requests, i.e. on the worker goroutine, and is
	// recovered from the size of the reverse index on first use.
	next      uint64
	recovered bool
}

// NewPersistentIdentifierMap creates an interner on top of w. The worker
// must not share its queue with workers of other engines, since the
// allocation counter belongs to w's engine.
func NewPersistentIdentifierMap(w *worker.Worker) IdentifierMap {
	return &persistentImpl{worker: w}
}

// recover resumes the counter after the highest identifier ever written
func (p *persistentImpl) recover(txn *worker.Txn) error {
	if p.recovered {
		return nil
	}
	n, err := txn.Count(TableReverse)
	if err != nil {
		return err
	}
	p.next = n + 1
	p.recovered = true
	Logger.Debugf("identifier counter recovered, next id %d", p.next)
	return nil
}

// identify runs inside a worker transaction
func (p *persistentImpl) identify(txn *worker.Txn, keys []key.ValueKey, ids []uint64) error {
	if err := p.recover(txn); err != nil {
		return err
	}

	// roll the counter back if this transaction does not commit, so no
	// identifier is skipped
	first := p.next
	txn.OnAbort(func() { p.next = first })

	for i, k := range keys {
		canonical := k.Bytes()
		raw, ok, err := txn.Get(TableForward, canonical)
		if err != nil {
			return err
		}
		if ok {
			id, valid := DecodeID(raw)
			if !valid {
				return fmt.Errorf("%w: corrupt forward entry for %s", ErrInternFailure, k)
			}
			ids[i] = id
			continue
		}

		id := p.next
		encoded := EncodeID(id)
		if _, taken, err := txn.Get(TableReverse, encoded); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("%w: identifier %d is already assigned", ErrInternFailure, id)
		}
		if err := txn.Put(TableReverse, encoded, canonical); err != nil {
			return fmt.Errorf("%w: reverse index write for %s: %v", ErrInternFailure, k, err)
		}
		if err := txn.Put(TableForward, canonical, encoded); err != nil {
			return fmt.Errorf("%w: forward index write for %s: %v", ErrInternFailure, k, err)
		}
		p.next++
		ids[i] = id
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IdentifierMap)
// --------------------------------------------------------------------------

func (p *persistentImpl) Identify(k key.ValueKey) (uint64, error) {
	ids, err := p.IdentifyMany([]key.ValueKey{k})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// IdentifyMany performs all lookups and allocations inside one transaction.
func (p *persistentImpl) IdentifyMany(keys []key.ValueKey) ([]uint64, error) {
	ids := make([]uint64, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}
	err := p.worker.Submit(func(txn *worker.Txn) error {
		return p.identify(txn, keys, ids)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *persistentImpl) Resolve(id uint64) (key.ValueKey, bool, error) {
	keys, err := p.ResolveMany([]uint64{id})
	if err != nil {
		return key.ValueKey{}, false, err
	}
	k, ok := keys[id]
	return k, ok, nil
}

func (p *persistentImpl) ResolveMany(ids []uint64) (map[uint64]key.ValueKey, error) {
	raw := make(map[uint64][]byte, len(ids))
	err := p.worker.Submit(func(txn *worker.Txn) error {
		for _, id := range ids {
			v, ok, err := txn.Get(TableReverse, EncodeID(id))
			if err != nil {
				return err
			}
			if ok {
				raw[id] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// decode outside the worker goroutine
	out := make(map[uint64]key.ValueKey, len(raw))
	for _, id := range ids {
		b, ok := raw[id]
		if !ok {
			Logger.Warningf("unresolvable identifier %d", id)
			continue
		}
		k, err := key.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("%w: reverse entry %d: %v", ErrInternFailure, id, err)
		}
		out[id] = k
	}
	return out, nil
}
