package crdt

import "bytes"

// Kind identifies the runtime shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindF64
	KindI64
	KindString
	KindBytes
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindF64:
		return "f64"
	case KindI64:
		return "i64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// ElemID identifies a list element by the op that inserted it.
type ElemID struct {
	Author string
	Seq    uint64
}

func (e ElemID) IsZero() bool { return e.Author == "" && e.Seq == 0 }

// Elem is a list element with a stable identity.
type Elem struct {
	ID    ElemID
	Value Value
}

// Value is a runtime document value.
type Value struct {
	Kind  Kind
	Bool  bool
	F64   float64
	I64   int64
	Str   string
	Bytes []byte
	List  []Elem
	Map   map[string]Value
}

func Null() Value              { return Value{Kind: KindNull} }
func BoolValue(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func F64Value(f float64) Value { return Value{Kind: KindF64, F64: f} }
func I64Value(i int64) Value   { return Value{Kind: KindI64, I64: i} }
func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}
func BytesValue(b []byte) Value {
	return Value{Kind: KindBytes, Bytes: b}
}
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{Kind: KindMap, Map: m}
}
func ListValue(elems ...Elem) Value {
	return Value{Kind: KindList, List: elems}
}

// StringList builds a list value from plain strings. Element ids are synthetic
// and only meaningful within the built value, which is what whole-value sets
// need.
func StringList(author string, startSeq uint64, vals ...string) Value {
	elems := make([]Elem, 0, len(vals))
	for i, v := range vals {
		elems = append(elems, Elem{
			ID:    ElemID{Author: author, Seq: startSeq + uint64(i)},
			Value: StringValue(v),
		})
	}
	return ListValue(elems...)
}

// Clone deep-copies a value.
func (v Value) Clone() Value {
	out := v
	switch v.Kind {
	case KindBytes:
		out.Bytes = append([]byte(nil), v.Bytes...)
	case KindList:
		out.List = make([]Elem, len(v.List))
		for i, e := range v.List {
			out.List[i] = Elem{ID: e.ID, Value: e.Value.Clone()}
		}
	case KindMap:
		out.Map = make(map[string]Value, len(v.Map))
		for k, mv := range v.Map {
			out.Map[k] = mv.Clone()
		}
	}
	return out
}

// Equal reports deep equality, including list element ids.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindF64:
		return v.F64 == o.F64
	case KindI64:
		return v.I64 == o.I64
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i].ID != o.List[i].ID || !v.List[i].Value.Equal(o.List[i].Value) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, mv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// Strings extracts identity strings from a value that is either a string or a
// list of strings. Any other shape returns ok=false.
func (v Value) Strings() ([]string, bool) {
	switch v.Kind {
	case KindString:
		return []string{v.Str}, true
	case KindList:
		out := make([]string, 0, len(v.List))
		for _, e := range v.List {
			if e.Value.Kind != KindString {
				return nil, false
			}
			out = append(out, e.Value.Str)
		}
		return out, true
	}
	return nil, false
}
