package store

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/kk-code-lab/recordlake/internal/crdt"
	"github.com/kk-code-lab/recordlake/internal/schema"
)

// assetSchema declares one I64 field and one blob-hash field.
func assetSchema() *schema.Schema {
	return &schema.Schema{
		Container: "assets",
		Root: &schema.Field{
			Kind: schema.Map,
			Fields: map[string]*schema.Field{
				"version": {Kind: schema.I64},
				"picture": {Kind: schema.Binary},
			},
		},
	}
}

// uploadSchema stores the encoded schema as a blob and returns its raw hash.
func uploadSchema(t *testing.T, s *Store, owner string, sch *schema.Schema) []byte {
	t.Helper()
	id, err := s.StoreBlob(context.Background(), owner, schema.Encode(sch))
	if err != nil {
		t.Fatalf("StoreBlob schema: %v", err)
	}
	raw, err := hex.DecodeString(id)
	if err != nil {
		t.Fatalf("decode schema hash: %v", err)
	}
	return raw
}

func TestCustomSchemaValidation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	creator, priv := newAuthor(t)

	schemaHash := uploadSchema(t, s, creator, assetSchema())

	doc := crdt.NewDocument()
	m := doc.Mutate(creator)
	m.Set(schema.RecordContainer, []string{"creator"}, crdt.StringValue(creator))
	m.Set(schema.RecordContainer, []string{"nonce"}, crdt.StringValue("n1"))
	m.Set(schema.RecordContainer, []string{"schemas", "assets"}, crdt.BytesValue(schemaHash))
	m.Set(schema.ACLContainer, []string{"managers"}, crdt.StringList(creator, 1000, creator))
	m.Set(schema.ACLContainer, []string{"writers"}, crdt.StringList(creator, 2000, creator))
	m.Set("assets", []string{"version"}, crdt.I64Value(1))
	ops := m.Ops()

	id := RecordID(creator, "n1")
	raw := makeEnvelope(doc, creator, priv, ops)
	if err := s.StoreEnvelope(ctx, id, raw); err != nil {
		t.Fatalf("StoreEnvelope: %v", err)
	}
	doc.ApplyOps(ops)

	deps, err := s.meta.RecordDeps(ctx, id, "schema")
	if err != nil {
		t.Fatalf("RecordDeps: %v", err)
	}
	if len(deps) != 1 || deps[0] != hex.EncodeToString(schemaHash) {
		t.Fatalf("schema deps mismatch: %v", deps)
	}

	// wrong runtime type against the custom schema
	bad := doc.Mutate(creator)
	bad.Set("assets", []string{"version"}, crdt.StringValue("two"))
	err = s.StoreEnvelope(ctx, id, makeEnvelope(doc, creator, priv, bad.Ops()))
	if !errors.Is(err, ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}

	// matching type passes
	good := doc.Mutate(creator)
	good.Set("assets", []string{"version"}, crdt.I64Value(2))
	goodOps := good.Ops()
	if err := s.StoreEnvelope(ctx, id, makeEnvelope(doc, creator, priv, goodOps)); err != nil {
		t.Fatalf("StoreEnvelope good update: %v", err)
	}
	doc.ApplyOps(goodOps)
}

func TestBlobDependencyExtraction(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	creator, priv := newAuthor(t)

	schemaHash := uploadSchema(t, s, creator, assetSchema())
	blobID, err := s.StoreBlob(ctx, creator, []byte("picture bytes"))
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}
	blobHash, err := hex.DecodeString(blobID)
	if err != nil {
		t.Fatalf("decode blob hash: %v", err)
	}

	doc := crdt.NewDocument()
	m := doc.Mutate(creator)
	m.Set(schema.RecordContainer, []string{"creator"}, crdt.StringValue(creator))
	m.Set(schema.RecordContainer, []string{"nonce"}, crdt.StringValue("n1"))
	m.Set(schema.RecordContainer, []string{"schemas", "assets"}, crdt.BytesValue(schemaHash))
	m.Set(schema.ACLContainer, []string{"managers"}, crdt.StringList(creator, 1000, creator))
	m.Set(schema.ACLContainer, []string{"writers"}, crdt.StringList(creator, 2000, creator))
	m.Set("assets", []string{"picture"}, crdt.BytesValue(blobHash))
	ops := m.Ops()

	id := RecordID(creator, "n1")
	if err := s.StoreEnvelope(ctx, id, makeEnvelope(doc, creator, priv, ops)); err != nil {
		t.Fatalf("StoreEnvelope: %v", err)
	}
	doc.ApplyOps(ops)

	refs, err := s.meta.RecordDeps(ctx, id, "ref")
	if err != nil {
		t.Fatalf("RecordDeps: %v", err)
	}
	if len(refs) != 1 || refs[0] != blobID {
		t.Fatalf("blob deps mismatch: %v", refs)
	}

	// dropping the reference drops the dep row on the next envelope
	del := doc.Mutate(creator)
	del.Delete("assets", []string{"picture"})
	delOps := del.Ops()
	if err := s.StoreEnvelope(ctx, id, makeEnvelope(doc, creator, priv, delOps)); err != nil {
		t.Fatalf("StoreEnvelope delete: %v", err)
	}
	refs, err = s.meta.RecordDeps(ctx, id, "ref")
	if err != nil {
		t.Fatalf("RecordDeps after delete: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("stale blob deps: %v", refs)
	}

	// the schema dep set is append-only across envelopes
	schemaDeps, err := s.meta.RecordDeps(ctx, id, "schema")
	if err != nil {
		t.Fatalf("schema deps: %v", err)
	}
	if len(schemaDeps) != 1 {
		t.Fatalf("schema deps lost: %v", schemaDeps)
	}
}

func TestMissingSchemaBlobRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	creator, priv := newAuthor(t)

	missing := make([]byte, 32)
	for i := range missing {
		missing[i] = byte(i)
	}

	doc := crdt.NewDocument()
	m := doc.Mutate(creator)
	m.Set(schema.RecordContainer, []string{"creator"}, crdt.StringValue(creator))
	m.Set(schema.RecordContainer, []string{"nonce"}, crdt.StringValue("n1"))
	m.Set(schema.RecordContainer, []string{"schemas", "assets"}, crdt.BytesValue(missing))
	ops := m.Ops()

	err := s.StoreEnvelope(ctx, RecordID(creator, "n1"), makeEnvelope(doc, creator, priv, ops))
	if !errors.Is(err, ErrSchemaNotFound) {
		t.Fatalf("expected ErrSchemaNotFound, got %v", err)
	}
}
