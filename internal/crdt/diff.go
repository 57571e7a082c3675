package crdt

import "sort"

// ChangeKind classifies a structural change between two document states.
type ChangeKind uint8

const (
	// Create introduces a value at a path (or inserts a list element).
	Create ChangeKind = iota
	// Update replaces the value at a path.
	Update
	// Delete removes the value at a path (or a list element).
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return "unknown"
}

// Change is one entry of a structural diff. Path addresses the changed map
// entry; for list element changes Path addresses the list field and ListElem
// carries the inserted or removed element.
type Change struct {
	Path     []string
	Kind     ChangeKind
	ListElem *Elem
	Old      *Value
	New      *Value
}

// DiffContainer computes the structural diff between two materialized
// container values. Both must be map values; list diffs match elements by
// their stable ids, so retained elements produce no change entries.
func DiffContainer(old, new Value) []Change {
	var changes []Change
	diffMaps(nil, mapOf(old), mapOf(new), &changes)
	return changes
}

func mapOf(v Value) map[string]Value {
	if v.Kind == KindMap {
		return v.Map
	}
	return nil
}

func diffMaps(prefix []string, old, new map[string]Value, out *[]Change) {
	keys := map[string]struct{}{}
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		path := append(append([]string(nil), prefix...), k)
		oldV, inOld := old[k]
		newV, inNew := new[k]
		switch {
		case !inOld:
			v := newV
			*out = append(*out, Change{Path: path, Kind: Create, New: &v})
		case !inNew:
			v := oldV
			*out = append(*out, Change{Path: path, Kind: Delete, Old: &v})
		case oldV.Equal(newV):
			// no change
		case oldV.Kind == KindMap && newV.Kind == KindMap:
			diffMaps(path, oldV.Map, newV.Map, out)
		case oldV.Kind == KindList && newV.Kind == KindList:
			diffLists(path, oldV.List, newV.List, out)
		default:
			o, n := oldV, newV
			*out = append(*out, Change{Path: path, Kind: Update, Old: &o, New: &n})
		}
	}
}

func diffLists(path []string, old, new []Elem, out *[]Change) {
	oldByID := make(map[ElemID]Elem, len(old))
	for _, e := range old {
		oldByID[e.ID] = e
	}
	newByID := make(map[ElemID]Elem, len(new))
	for _, e := range new {
		newByID[e.ID] = e
	}
	for _, e := range new {
		if _, ok := oldByID[e.ID]; !ok {
			elem := e
			v := e.Value
			*out = append(*out, Change{Path: path, Kind: Create, ListElem: &elem, New: &v})
		}
	}
	for _, e := range old {
		if _, ok := newByID[e.ID]; !ok {
			elem := e
			v := e.Value
			*out = append(*out, Change{Path: path, Kind: Delete, ListElem: &elem, Old: &v})
		}
	}
}
