package key

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Properties maps a property name to its values. The order of names and of
// values is irrelevant: keys built from the same properties in a different
// order are equal.
type Properties map[string][]string

// ValueKey identifies one computable artifact: a value name, a set of
// properties and the target the value is computed for.
//
// A ValueKey is immutable. Its canonical encoding is computed once at
// construction, so equality and hashing are cheap. The zero value is not a
// valid key; use New or Decode.
type ValueKey struct {
	name      string
	props     []property
	target    *Target
	canonical string
	hash      uint64
}

type property struct {
	name   string
	values []string
}

// New creates a ValueKey. Properties are copied and sorted, so the caller
// may reuse the map afterward. A nil target denotes the null target.
func New(name string, target *Target, props Properties) ValueKey {
	k := ValueKey{
		name:   name,
		props:  sortProperties(props),
		target: target,
	}
	k.canonical = string(encodeCanonical(k))
	k.hash = xxhash.Sum64String(k.canonical)
	return k
}

// sortProperties copies the property map into a slice sorted by name, with
// every value list sorted and de-duplicated.
func sortProperties(props Properties) []property {
	out := make([]property, 0, len(props))
	for name, values := range props {
		vs := make([]string, len(values))
		copy(vs, values)
		sort.Strings(vs)
		vs = dedupSorted(vs)
		out = append(out, property{name: name, values: vs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func dedupSorted(vs []string) []string {
	if len(vs) < 2 {
		return vs
	}
	j := 0
	for i := 1; i < len(vs); i++ {
		if vs[i] != vs[j] {
			j++
			vs[j] = vs[i]
		}
	}
	return vs[:j+1]
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Name returns the value name.
func (k ValueKey) Name() string { return k.name }

// Target returns the target reference chain (nil for the null target).
func (k ValueKey) Target() *Target { return k.target }

// Properties returns a copy of the property set.
func (k ValueKey) Properties() Properties {
	out := make(Properties, len(k.props))
	for _, p := range k.props {
		vs := make([]string, len(p.values))
		copy(vs, p.values)
		out[p.name] = vs
	}
	return out
}

// Canonical returns the canonical encoding as a string. Two keys are equal
// if and only if their canonical encodings are equal, which makes this
// string suitable as a map key.
func (k ValueKey) Canonical() string { return k.canonical }

// Bytes returns the canonical encoding.
func (k ValueKey) Bytes() []byte { return []byte(k.canonical) }

// Hash returns a 64-bit hash of the canonical encoding.
func (k ValueKey) Hash() uint64 { return k.hash }

// Equal reports whether two keys identify the same artifact.
func (k ValueKey) Equal(o ValueKey) bool { return k.canonical == o.canonical }

// IsZero reports whether k is the zero value.
func (k ValueKey) IsZero() bool { return k.canonical == "" }

// String returns a human readable form, e.g. "FX_SPOT{Currency=[USD]}@CurrencyPair:EURUSD".
func (k ValueKey) String() string {
	var sb strings.Builder
	sb.WriteString(k.name)
	if len(k.props) > 0 {
		sb.WriteByte('{')
		for i, p := range k.props {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(fmt.Sprintf("%s=%v", p.name, p.values))
		}
		sb.WriteByte('}')
	}
	sb.WriteByte('@')
	sb.WriteString(k.target.String())
	return sb.String()
}
