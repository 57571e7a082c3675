package schema

import (
	"encoding/hex"
	"testing"

	"github.com/kk-code-lab/recordlake/internal/crdt"
)

func testSchema() *Schema {
	return &Schema{
		Container: "world",
		Root: &Field{
			Kind: Map,
			Fields: map[string]*Field{
				"title": {Kind: String},
				"scale": {Kind: F64},
				"icon":  {Kind: Binary},
				"tags":  {Kind: List, Elem: &Field{Kind: String}},
				"owner_notes": {
					Kind:    Restricted,
					Actions: []Action{{Who: AtPath("acl.managers"), Ops: Ops(OpCreate, OpUpdate)}},
					Value:   &Field{Kind: String},
				},
				"extra": {Kind: Any},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := testSchema()
	enc := Encode(s)
	dec, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Container != "world" {
		t.Fatalf("container: %s", dec.Container)
	}
	if dec.Hash() != s.Hash() {
		t.Fatalf("hash changed across round-trip")
	}
	inner, actions := dec.Root.Fields["owner_notes"].Unwrap()
	if inner.Kind != String {
		t.Fatalf("inner kind: %v", inner.Kind)
	}
	if len(actions) != 1 || actions[0].Who.Path != "acl.managers" || !actions[0].Ops.Has(OpUpdate) {
		t.Fatalf("actions: %+v", actions)
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	enc := Encode(testSchema())
	enc[len(enc)/2] ^= 0x01
	if _, err := Decode(enc); err == nil {
		t.Fatalf("expected checksum error")
	}
	if _, err := Decode(enc[:6]); err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestHashDeterministic(t *testing.T) {
	if testSchema().Hash() != testSchema().Hash() {
		t.Fatalf("hash not deterministic")
	}
	other := testSchema()
	other.Root.Fields["title"] = &Field{Kind: I64}
	if other.Hash() == testSchema().Hash() {
		t.Fatalf("distinct schemas share a hash")
	}
}

func TestNestedRestrictedUnwrap(t *testing.T) {
	f := &Field{
		Kind:    Restricted,
		Actions: []Action{{Who: Anyone(), Ops: Ops(OpCreate)}},
		Value: &Field{
			Kind:    Restricted,
			Actions: []Action{{Who: AtPath("acl.managers"), Ops: Ops(OpDelete)}},
			Value:   &Field{Kind: Bool},
		},
	}
	inner, actions := f.Unwrap()
	if inner.Kind != Bool {
		t.Fatalf("inner: %v", inner.Kind)
	}
	if len(actions) != 2 {
		t.Fatalf("actions: %+v", actions)
	}
}

func TestBlobRefs(t *testing.T) {
	s := testSchema()
	hash := make([]byte, 32)
	hash[0] = 0xab
	container := crdt.MapValue(map[string]crdt.Value{
		"title": crdt.StringValue("spawn"),
		"icon":  crdt.BytesValue(hash),
		"tags":  crdt.StringList("alice", 1, "a", "b"),
	})
	refs := map[string]struct{}{}
	BlobRefs(s, container, refs)
	if len(refs) != 1 {
		t.Fatalf("refs: %v", refs)
	}
	if _, ok := refs[hex.EncodeToString(hash)]; !ok {
		t.Fatalf("missing icon ref")
	}
}
