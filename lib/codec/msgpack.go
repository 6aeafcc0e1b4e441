package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// msgpackCodec encodes values with vmihailenco/msgpack. Floats are always
// written in their full width, so float values have a fixed encoded size.
type msgpackCodec struct{}

// NewMsgpack returns the default codec.
func NewMsgpack() Codec {
	return msgpackCodec{}
}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Decode(b []byte) (any, error) {
	var v any
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

func (msgpackCodec) FixedSize(v any) (int, bool) {
	switch v.(type) {
	case nil, bool:
		return 1, true
	case float32:
		return 5, true
	case float64:
		return 9, true
	default:
		return 0, false
	}
}
