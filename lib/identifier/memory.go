package identifier

import (
	"sync/atomic"

	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/puzpuzpuz/xsync/v3"
)

// memoryImpl keeps both directions of the mapping in lock-free maps.
// Identifiers are lost with the process.
type memoryImpl struct {
	forward *xsync.MapOf[string, uint64]
	reverse *xsync.MapOf[uint64, key.ValueKey]
	last    atomic.Uint64
}

// NewMemoryIdentifierMap creates a process-local interner.
func NewMemoryIdentifierMap() IdentifierMap {
	return &memoryImpl{
		forward: xsync.NewMapOf[string, uint64](),
		reverse: xsync.NewMapOf[uint64, key.ValueKey](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IdentifierMap)
// --------------------------------------------------------------------------

func (m *memoryImpl) Identify(k key.ValueKey) (uint64, error) {
	// the compute func runs at most once per key, so every key gets exactly one id
	id, _ := m.forward.LoadOrCompute(k.Canonical(), func() uint64 {
		id := m.last.Add(1)
		m.reverse.Store(id, k)
		return id
	})
	return id, nil
}

func (m *memoryImpl) IdentifyMany(keys []key.ValueKey) ([]uint64, error) {
	ids := make([]uint64, len(keys))
	for i, k := range keys {
		ids[i], _ = m.Identify(k)
	}
	return ids, nil
}

func (m *memoryImpl) Resolve(id uint64) (key.ValueKey, bool, error) {
	k, ok := m.reverse.Load(id)
	if !ok {
		Logger.Warningf("unresolvable identifier %d", id)
	}
	return k, ok, nil
}

func (m *memoryImpl) ResolveMany(ids []uint64) (map[uint64]key.ValueKey, error) {
	out := make(map[uint64]key.ValueKey, len(ids))
	for _, id := range ids {
		if k, ok, _ := m.Resolve(id); ok {
			out[id] = k
		}
	}
	return out, nil
}
