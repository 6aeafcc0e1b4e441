package codec

import (
	"errors"
	"fmt"
)

// ErrUnknownCodec is returned by ByName for unregistered names.
var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec converts computed values to bytes and back. Decode returns the
// generic representation the format produces (maps, slices, numbers,
// strings), not necessarily the type that was encoded.
type Codec interface {
	// Name is the short name used in configuration, e.g. "msgpack".
	Name() string
	Encode(v any) ([]byte, error)
	Decode(b []byte) (any, error)
	// FixedSize returns the encoded size of v if every value of v's runtime
	// type encodes to the same number of bytes.
	FixedSize(v any) (int, bool)
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "msgpack", "":
		return NewMsgpack(), nil
	case "cbor":
		return NewCBOR()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}
