// Package codec contains the value codecs used by the value cache to turn
// computed values into the byte payloads kept by the binary stores.
//
// Two codecs are available:
//
//   - msgpack (default): github.com/vmihailenco/msgpack/v5. Floats are encoded
//     in full width, so a float64 always takes 9 bytes, which lets the cache
//     estimate the size of such values without encoding them.
//   - cbor: github.com/fxamacker/cbor/v2 with the preferred shortest form
//     encoding.
//
// Decoded values use the generic representation of the format; callers that
// need typed values convert after decoding.
package codec
