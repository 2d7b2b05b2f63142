// Package shape implements the closed shape union described in §9: model
// compiled JSON Schemas as a union of {Object, Array, String, Integer,
// Number, Boolean, Null} with per-variant attributes and a `types`
// bitset, used by the validator's schema-compilation and
// inference/projection steps (§4.4 steps 2-3). Grounded on
// crates/doc/src/shape/schema.rs and crates/json/src/schema/mod.rs.
package shape

import "encoding/json"

// Type is one bit of the closed type union.
type Type uint16

const (
	TypeObject Type = 1 << iota
	TypeArray
	TypeString
	TypeInteger
	TypeNumber
	TypeBoolean
	TypeNull
)

// TypeSet is a bitset of Type, matching JSON Schema's ability to declare
// multiple allowed types at a single location.
type TypeSet Type

func (ts TypeSet) Has(t Type) bool { return Type(ts)&t != 0 }

func (ts TypeSet) Add(t Type) TypeSet { return TypeSet(Type(ts) | t) }

// Strings renders the set as the JSON Schema "type" keyword would.
func (ts TypeSet) Strings() []string {
	var order = []struct {
		t Type
		s string
	}{
		{TypeObject, "object"}, {TypeArray, "array"}, {TypeString, "string"},
		{TypeInteger, "integer"}, {TypeNumber, "number"}, {TypeBoolean, "boolean"}, {TypeNull, "null"},
	}
	var out []string
	for _, o := range order {
		if ts.Has(o.t) {
			out = append(out, o.s)
		}
	}
	return out
}

// Location is one compiled location within a Shape's tree: a JSON
// pointer, its allowed types, and the per-variant attributes inferred
// from the combined read/write schema (§4.4 step 2).
type Location struct {
	Pointer  string
	Types    TypeSet
	Required bool

	// String variant attributes.
	Format string
	Enum   []json.RawMessage

	// Numeric variant attributes.
	Minimum, Maximum *float64

	// Object variant attributes.
	Properties []string // sorted property names, for deterministic iteration

	// Array variant attributes.
	ItemsPointer string // pointer suffix for array items, "/-" if variable length

	// Format above is the only annotation carried for inference (§4.4
	// step 2 "detect inference ... format annotations"); description
	// annotations are not kept.
}

// Shape is a compiled schema: a sorted, flattened set of Locations keyed
// by JSON pointer; no $ref index is kept. Sorting is what makes
// assembly deterministic across runs with identical inputs (§4.4
// "Determinism").
type Shape struct {
	Locations []Location // sorted by Pointer
}

// ByPointer returns the Location at exactly pointer, if compiled.
func (s Shape) ByPointer(pointer string) (Location, bool) {
	for _, l := range s.Locations {
		if l.Pointer == pointer {
			return l, true
		}
	}
	return Location{}, false
}

// IsVariableLengthArraySuffix reports whether pointer locates the
// variable-length tail of an array (the "/-" append locator), which is
// never projected (§4.4 step 3).
func IsVariableLengthArraySuffix(pointer string) bool {
	return len(pointer) >= 2 && pointer[len(pointer)-2:] == "/-"
}

// IsScalar reports whether a Location's type set contains only scalar
// (non-object, non-array) types, the condition for canonical projection
// generation (§4.4 step 3: "every single-scalar location").
func (l Location) IsScalar() bool {
	return !l.Types.Has(TypeObject) && !l.Types.Has(TypeArray) && l.Types != 0
}
