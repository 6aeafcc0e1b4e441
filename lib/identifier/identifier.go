package identifier

import (
	"encoding/binary"
	"errors"

	"github.com/ValentinKolb/dCache/lib/key"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("identifier")

// ErrInternFailure signals that an index write of the interner did not
// succeed. The interner state can no longer be trusted; callers must not
// retry and should surface the error.
var ErrInternFailure = errors.New("identifier: intern failure")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IdentifierMap is a bijective mapping between value keys and compact
// 64-bit cache identifiers. Identifiers start at 1, are assigned on first
// use and are never reassigned or reused.
type IdentifierMap interface {
	// Identify returns the identifier of k, allocating a new one on first use.
	Identify(k key.ValueKey) (id uint64, err error)

	// IdentifyMany identifies all keys at once. The result is aligned with keys.
	IdentifyMany(keys []key.ValueKey) (ids []uint64, err error)

	// Resolve returns the key of an identifier. An unknown identifier is not
	// an error: loaded is false.
	Resolve(id uint64) (k key.ValueKey, loaded bool, err error)

	// ResolveMany resolves all identifiers at once. Unknown identifiers are
	// omitted from the result.
	ResolveMany(ids []uint64) (keys map[uint64]key.ValueKey, err error)
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// EncodeID encodes an identifier as 8 bytes big endian, so identifiers sort
// numerically in ordered engines.
func EncodeID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// DecodeID is the inverse of EncodeID.
func DecodeID(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
