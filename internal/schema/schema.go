// Package schema models per-record authorization schemas: a recursive field
// type tree whose Restricted wrappers carry data-driven access rules.
package schema

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// FieldKind identifies a Field variant.
type FieldKind uint8

const (
	Any FieldKind = iota
	Bool
	F64
	I64
	String
	// Binary fields hold blob content hashes (32 raw bytes); their values form
	// the record's blob dependency set.
	Binary
	List
	Map
	Restricted
)

func (k FieldKind) String() string {
	switch k {
	case Any:
		return "any"
	case Bool:
		return "bool"
	case F64:
		return "f64"
	case I64:
		return "i64"
	case String:
		return "string"
	case Binary:
		return "binary"
	case List:
		return "list"
	case Map:
		return "map"
	case Restricted:
		return "restricted"
	}
	return "unknown"
}

// Op is one permitted operation class of an authorization action.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDelete
)

// OpSet is a bitmask of permitted operations.
type OpSet uint8

func Ops(ops ...Op) OpSet {
	var s OpSet
	for _, op := range ops {
		s |= OpSet(op)
	}
	return s
}

func (s OpSet) Has(op Op) bool { return s&OpSet(op) != 0 }

// Who names the identities an action authorizes: anyone, or the string /
// list-of-strings value found at a dotted path into the document.
type Who struct {
	Anyone bool
	Path   string
}

func Anyone() Who            { return Who{Anyone: true} }
func AtPath(path string) Who { return Who{Path: path} }

// Action pairs a Who rule with the operations it permits.
type Action struct {
	Who Who
	Ops OpSet
}

// Field is one node of the recursive schema tree. Exactly the fields relevant
// to Kind are populated.
type Field struct {
	Kind    FieldKind
	Elem    *Field            // List element type
	Fields  map[string]*Field // Map entries
	Actions []Action          // Restricted rules
	Value   *Field            // Restricted inner field
}

// Unwrap strips every Restricted layer, returning the innermost field and the
// actions collected outermost-first.
func (f *Field) Unwrap() (*Field, []Action) {
	var actions []Action
	for f != nil && f.Kind == Restricted {
		actions = append(actions, f.Actions...)
		f = f.Value
	}
	return f, actions
}

// Schema binds a field tree to the document container it validates.
type Schema struct {
	Container string
	Root      *Field
}

// Hash returns the hex content address of the schema's canonical encoding.
func (s *Schema) Hash() string {
	sum := blake3.Sum256(Encode(s))
	return hex.EncodeToString(sum[:])
}
