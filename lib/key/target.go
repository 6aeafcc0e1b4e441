package key

import (
	"strings"
)

// --------------------------------------------------------------------------
// Target Types
// --------------------------------------------------------------------------

// TargetType describes what kind of object a target reference points to.
// The set of implementations is closed: ClassType, NullType, NestedType and
// MultipleType are the only variants and the encoder switches over all of them.
type TargetType interface {
	isTargetType()
	String() string
}

// ClassType is a target type naming a single primitive class (e.g. "Security").
type ClassType struct {
	Name string
}

// NullType is the type of the null target.
type NullType struct{}

// NestedType is an ordered list of types, outermost first.
type NestedType struct {
	Elems []TargetType
}

// MultipleType is a target type that is one of a set of alternatives.
// The order in which alternatives are given is not significant.
type MultipleType struct {
	Alts []TargetType
}

func (ClassType) isTargetType()    {}
func (NullType) isTargetType()     {}
func (NestedType) isTargetType()   {}
func (MultipleType) isTargetType() {}

func (t ClassType) String() string { return t.Name }
func (NullType) String() string    { return "NULL" }

func (t NestedType) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return strings.Join(parts, "/")
}

func (t MultipleType) String() string {
	parts := make([]string, len(t.Alts))
	for i, a := range t.Alts {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, "|") + ")"
}

// Class is a shorthand for ClassType{Name: name}.
func Class(name string) TargetType {
	return ClassType{Name: name}
}

// Nested builds a nested list type from the given elements.
func Nested(elems ...TargetType) TargetType {
	cp := make([]TargetType, len(elems))
	copy(cp, elems)
	return NestedType{Elems: cp}
}

// OneOf builds a type that matches any of the given alternatives.
func OneOf(alts ...TargetType) TargetType {
	cp := make([]TargetType, len(alts))
	copy(cp, alts)
	return MultipleType{Alts: cp}
}

// --------------------------------------------------------------------------
// Target Reference Chain
// --------------------------------------------------------------------------

// Target is one link of an immutable target reference chain. Every link
// holds its own type and identifier plus a reference to its parent. A chain
// can only be extended by creating a child of an existing link, so chains
// are acyclic by construction.
type Target struct {
	parent *Target
	typ    TargetType
	id     string
}

// NewTarget creates a root target (a chain of length one).
// A nil type is treated as NullType.
func NewTarget(typ TargetType, id string) *Target {
	if typ == nil {
		typ = NullType{}
	}
	return &Target{typ: typ, id: id}
}

// Child returns a new target whose parent is t. The receiver is not modified.
func (t *Target) Child(typ TargetType, id string) *Target {
	child := NewTarget(typ, id)
	child.parent = t
	return child
}

// Parent returns the parent link, or nil for a root target.
func (t *Target) Parent() *Target {
	if t == nil {
		return nil
	}
	return t.parent
}

// Type returns the target type of this link.
func (t *Target) Type() TargetType {
	if t == nil {
		return NullType{}
	}
	return t.typ
}

// ID returns the identifier of this link.
func (t *Target) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Depth returns the number of links in the chain ending at t.
func (t *Target) Depth() int {
	n := 0
	for c := t; c != nil; c = c.parent {
		n++
	}
	return n
}

// String renders the chain parent-first, e.g. "Portfolio:P1/Position:42".
func (t *Target) String() string {
	if t == nil {
		return "NULL"
	}
	var sb strings.Builder
	t.visit(func(link *Target) {
		if sb.Len() > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(link.typ.String())
		sb.WriteByte(':')
		sb.WriteString(link.id)
	})
	return sb.String()
}

// visit calls fn for every link of the chain, parent first.
func (t *Target) visit(fn func(link *Target)) {
	if t == nil {
		return
	}
	t.parent.visit(fn)
	fn(t)
}
