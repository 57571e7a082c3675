package schema

// Container names every record carries.
const (
	RecordContainer = "record"
	ACLContainer    = "acl"
)

// ManagersPath is the dotted path naming a record's manager list.
const ManagersPath = "acl.managers"

// RecordSchema returns the builtin schema for the record container. Identity
// fields are create-only: anyone may write them in the envelope that brings
// the record into existence, nobody may touch them afterwards.
func RecordSchema() *Schema {
	createOnly := func(inner *Field) *Field {
		return &Field{
			Kind:    Restricted,
			Actions: []Action{{Who: Anyone(), Ops: Ops(OpCreate)}},
			Value:   inner,
		}
	}
	managed := func(inner *Field) *Field {
		return &Field{
			Kind:    Restricted,
			Actions: []Action{{Who: AtPath(ManagersPath), Ops: Ops(OpCreate, OpUpdate, OpDelete)}},
			Value:   inner,
		}
	}
	return &Schema{
		Container: RecordContainer,
		Root: &Field{
			Kind: Map,
			Fields: map[string]*Field{
				"creator": createOnly(&Field{Kind: String}),
				"nonce":   createOnly(&Field{Kind: String}),
				"created": createOnly(&Field{Kind: I64}),
				// container name -> schema blob hash; keys are data-driven, so
				// the value tree is opaque to type validation
				"schemas": managed(&Field{Kind: Any}),
			},
		},
	}
}

// ACLSchema returns the builtin schema for the acl container. Every field is
// manager-gated; the ingestion pipeline additionally re-checks manage access
// on the pre-mutation ACL whenever membership changes.
func ACLSchema() *Schema {
	managed := func(inner *Field) *Field {
		return &Field{
			Kind:    Restricted,
			Actions: []Action{{Who: AtPath(ManagersPath), Ops: Ops(OpCreate, OpUpdate, OpDelete)}},
			Value:   inner,
		}
	}
	identities := func() *Field {
		return &Field{Kind: List, Elem: &Field{Kind: String}}
	}
	return &Schema{
		Container: ACLContainer,
		Root: &Field{
			Kind: Map,
			Fields: map[string]*Field{
				"public":   managed(&Field{Kind: Bool}),
				"managers": managed(identities()),
				"writers":  managed(identities()),
				"readers":  managed(identities()),
			},
		},
	}
}

// Builtin returns the schema set every record validates against before any
// custom schemas are considered.
func Builtin() []*Schema {
	return []*Schema{RecordSchema(), ACLSchema()}
}
