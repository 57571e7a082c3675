package schema

import (
	"encoding/hex"

	"github.com/kk-code-lab/recordlake/internal/crdt"
)

// BlobRefs walks a container value alongside its schema and collects the
// content hashes held by Binary fields. Wrappers (List, Map, Restricted) are
// followed; values whose shape disagrees with the schema are skipped here, the
// diff validator is where mismatches get rejected.
func BlobRefs(s *Schema, container crdt.Value, into map[string]struct{}) {
	collectRefs(s.Root, container, into)
}

func collectRefs(f *Field, v crdt.Value, into map[string]struct{}) {
	f, _ = f.Unwrap()
	if f == nil {
		return
	}
	switch f.Kind {
	case Binary:
		if v.Kind == crdt.KindBytes && len(v.Bytes) > 0 {
			into[hex.EncodeToString(v.Bytes)] = struct{}{}
		}
	case List:
		if v.Kind != crdt.KindList {
			return
		}
		for _, e := range v.List {
			collectRefs(f.Elem, e.Value, into)
		}
	case Map:
		if v.Kind != crdt.KindMap {
			return
		}
		for name, child := range f.Fields {
			if cv, ok := v.Map[name]; ok {
				collectRefs(child, cv, into)
			}
		}
	}
}
