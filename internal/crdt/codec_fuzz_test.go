package crdt

import "testing"

func FuzzDecodeOps(f *testing.F) {
	doc := NewDocument()
	m := doc.Mutate("alice")
	m.Set("data", []string{"k"}, StringValue("v"))
	m.Insert("data", []string{"l"}, ElemID{}, I64Value(9))
	f.Add(EncodeOps(m.Ops()))
	f.Add([]byte{})
	f.Add([]byte{0x50, 0x4f, 0x4c, 0x52})

	f.Fuzz(func(t *testing.T, data []byte) {
		ops, err := DecodeOps(data)
		if err != nil {
			return
		}
		// decoded ops must re-encode and re-decode identically
		enc := EncodeOps(ops)
		again, err := DecodeOps(enc)
		if err != nil {
			t.Fatalf("re-decode: %v", err)
		}
		if len(again) != len(ops) {
			t.Fatalf("op count changed: %d != %d", len(again), len(ops))
		}
	})
}
