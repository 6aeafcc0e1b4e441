/*
Package key defines ValueKey, the domain key of one computable artifact.

A ValueKey consists of

  - a value name, e.g. "FX_SPOT"
  - a set of properties (name -> values)
  - a target reference chain, e.g. Portfolio:P1/Position:42
  - the target type of every link of that chain

Keys are compared by their canonical encoding. The encoding sorts properties
by name and values, renders the target chain parent first and sorts the
alternatives of a OneOf type, so logically equal keys always produce the same
bytes no matter in which order they were built. The encoding uses CBOR core
deterministic encoding and can be turned back into a key with Decode, which
is how the identifier package resolves identifiers.

Example:

	pair := key.NewTarget(key.Class("CurrencyPair"), "EURUSD")
	k := key.New("FX_SPOT", pair, key.Properties{"Source": {"BBG"}})
	fmt.Println(k) // FX_SPOT{Source=[BBG]}@CurrencyPair:EURUSD
*/
package key
