package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// cborCodec encodes values with fxamacker/cbor using the preferred
// (shortest form) encoding.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR returns a CBOR codec.
func NewCBOR() (Codec, error) {
	eo := cbor.PreferredUnsortedEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) Name() string { return "cbor" }

func (c cborCodec) Encode(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c cborCodec) Decode(b []byte) (any, error) {
	var v any
	err := c.dec.Unmarshal(b, &v)
	return v, err
}

// FixedSize knows only the simple values, numbers use the shortest form.
func (c cborCodec) FixedSize(v any) (int, bool) {
	switch v.(type) {
	case nil, bool:
		return 1, true
	default:
		return 0, false
	}
}
