package key

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidEncoding is returned by Decode for bytes that are not a
// canonical key encoding.
var ErrInvalidEncoding = errors.New("key: invalid canonical encoding")

// type tags of the target type union
const (
	kindNull     uint8 = 0
	kindClass    uint8 = 1
	kindNested   uint8 = 2
	kindMultiple uint8 = 3
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// core deterministic encoding (RFC 8949) keeps the output byte-for-byte stable
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("key: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("key: cbor dec mode: %v", err))
	}
}

// --------------------------------------------------------------------------
// Wire Structures
// --------------------------------------------------------------------------

type wireKey struct {
	_      struct{} `cbor:",toarray"`
	Name   string
	Props  []wireProp
	Target []wireLink // parent first
}

type wireProp struct {
	_      struct{} `cbor:",toarray"`
	Name   string
	Values []string
}

type wireLink struct {
	_    struct{} `cbor:",toarray"`
	Type wireType
	ID   string
}

type wireType struct {
	_     struct{} `cbor:",toarray"`
	Kind  uint8
	Class string
	Elems []wireType
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// encodeCanonical renders the key into its canonical byte form.
func encodeCanonical(k ValueKey) []byte {
	w := wireKey{
		Name:   k.name,
		Props:  make([]wireProp, 0, len(k.props)),
		Target: make([]wireLink, 0, k.target.Depth()),
	}
	for _, p := range k.props {
		w.Props = append(w.Props, wireProp{Name: p.name, Values: p.values})
	}
	k.target.visit(func(link *Target) {
		w.Target = append(w.Target, wireLink{Type: encodeType(link.typ), ID: link.id})
	})

	b, err := encMode.Marshal(w)
	if err != nil {
		// only plain strings, ints and slices are encoded
		panic(fmt.Sprintf("key: canonical encoding failed: %v", err))
	}
	return b
}

// encodeType converts a target type into its wire form. Alternatives of a
// MultipleType are sorted (and de-duplicated) by their own encoding so the
// result does not depend on construction order.
func encodeType(t TargetType) wireType {
	switch t := t.(type) {
	case nil:
		return wireType{Kind: kindNull}
	case NullType:
		return wireType{Kind: kindNull}
	case ClassType:
		return wireType{Kind: kindClass, Class: t.Name}
	case NestedType:
		elems := make([]wireType, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = encodeType(e)
		}
		return wireType{Kind: kindNested, Elems: elems}
	case MultipleType:
		return wireType{Kind: kindMultiple, Elems: sortAlternatives(t.Alts)}
	default:
		panic(fmt.Sprintf("key: unknown target type %T", t))
	}
}

func sortAlternatives(alts []TargetType) []wireType {
	type encoded struct {
		w wireType
		b []byte
	}
	enc := make([]encoded, 0, len(alts))
	for _, a := range alts {
		w := encodeType(a)
		b, err := encMode.Marshal(w)
		if err != nil {
			panic(fmt.Sprintf("key: canonical encoding failed: %v", err))
		}
		enc = append(enc, encoded{w: w, b: b})
	}
	sort.Slice(enc, func(i, j int) bool { return bytes.Compare(enc[i].b, enc[j].b) < 0 })

	out := make([]wireType, 0, len(enc))
	for i, e := range enc {
		if i > 0 && bytes.Equal(e.b, enc[i-1].b) {
			continue
		}
		out = append(out, e.w)
	}
	return out
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode rebuilds a ValueKey from its canonical encoding (see Bytes).
func Decode(b []byte) (ValueKey, error) {
	var w wireKey
	if err := decMode.Unmarshal(b, &w); err != nil {
		return ValueKey{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	props := make(Properties, len(w.Props))
	for _, p := range w.Props {
		props[p.Name] = p.Values
	}

	var target *Target
	for _, link := range w.Target {
		typ, err := decodeType(link.Type)
		if err != nil {
			return ValueKey{}, err
		}
		if target == nil {
			target = NewTarget(typ, link.ID)
		} else {
			target = target.Child(typ, link.ID)
		}
	}

	k := New(w.Name, target, props)
	if k.canonical != string(b) {
		return ValueKey{}, fmt.Errorf("%w: not in canonical form", ErrInvalidEncoding)
	}
	return k, nil
}

func decodeType(w wireType) (TargetType, error) {
	switch w.Kind {
	case kindNull:
		return NullType{}, nil
	case kindClass:
		return ClassType{Name: w.Class}, nil
	case kindNested, kindMultiple:
		elems := make([]TargetType, len(w.Elems))
		for i, e := range w.Elems {
			t, err := decodeType(e)
			if err != nil {
				return nil, err
			}
			elems[i] = t
		}
		if w.Kind == kindNested {
			return NestedType{Elems: elems}, nil
		}
		return MultipleType{Alts: elems}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type kind %d", ErrInvalidEncoding, w.Kind)
	}
}
