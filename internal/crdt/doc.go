package crdt

import "sort"

// Document is an op-log CRDT. State is never stored directly: it is derived by
// replaying the op set in its deterministic total order, so merging any two
// documents is a set union of ops and is commutative, associative, and
// idempotent.
type Document struct {
	ops     map[string]map[uint64]Op // author -> seq -> op
	vv      VersionVector
	lamport uint64
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		ops: map[string]map[uint64]Op{},
		vv:  VersionVector{},
	}
}

// Version returns a copy of the document's version vector (its frontier).
func (d *Document) Version() VersionVector { return d.vv.Clone() }

// Lamport returns the highest lamport stamp incorporated.
func (d *Document) Lamport() uint64 { return d.lamport }

// IsEmpty reports whether no ops have been applied.
func (d *Document) IsEmpty() bool { return d.vv.IsEmpty() }

// ApplyOps merges ops into the document. Already-known ops are ignored.
func (d *Document) ApplyOps(ops []Op) {
	for _, op := range ops {
		if op.Author == "" || op.Seq == 0 {
			continue
		}
		byAuthor := d.ops[op.Author]
		if byAuthor == nil {
			byAuthor = map[uint64]Op{}
			d.ops[op.Author] = byAuthor
		}
		if _, seen := byAuthor[op.Seq]; seen {
			continue
		}
		byAuthor[op.Seq] = op
		if d.vv[op.Author] < op.Seq {
			d.vv[op.Author] = op.Seq
		}
		if op.Lamport > d.lamport {
			d.lamport = op.Lamport
		}
	}
}

// Merge folds every op of o into d.
func (d *Document) Merge(o *Document) {
	d.ApplyOps(o.allOps())
}

// Fork returns an independent copy of the document.
func (d *Document) Fork() *Document {
	out := NewDocument()
	out.ApplyOps(d.allOps())
	return out
}

func (d *Document) allOps() []Op {
	var out []Op
	for _, byAuthor := range d.ops {
		for _, op := range byAuthor {
			out = append(out, op)
		}
	}
	return out
}

// orderedOps returns every op in the deterministic total order.
func (d *Document) orderedOps() []Op {
	out := d.allOps()
	sort.Slice(out, func(i, j int) bool { return opLess(out[i], out[j]) })
	return out
}

// Containers materializes the document state as a map of container name to
// map value.
func (d *Document) Containers() map[string]Value {
	state := map[string]Value{}
	for _, op := range d.orderedOps() {
		applyToState(state, op)
	}
	return state
}

// Container materializes a single container; absent containers yield an empty
// map value.
func (d *Document) Container(name string) Value {
	if v, ok := d.Containers()[name]; ok {
		return v
	}
	return MapValue(nil)
}

func applyToState(state map[string]Value, op Op) {
	root, ok := state[op.Container]
	if !ok || root.Kind != KindMap {
		root = MapValue(nil)
	}
	switch op.Kind {
	case OpSet:
		setPath(root.Map, op.Path, op.Value.Clone())
	case OpDelete:
		deletePath(root.Map, op.Path)
	case OpInsert:
		insertElem(root.Map, op.Path, op.Elem, op.After, op.Value.Clone())
	case OpRemove:
		removeElem(root.Map, op.Path, op.Elem)
	}
	state[op.Container] = root
}

// descend walks to the map holding the final path segment, creating
// intermediate maps when create is set. Non-map intermediates are replaced on
// create, which is deterministic because ops replay in total order.
func descend(m map[string]Value, path []string, create bool) (map[string]Value, string, bool) {
	if len(path) == 0 {
		return nil, "", false
	}
	cur := m
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg]
		if !ok || next.Kind != KindMap {
			if !create {
				return nil, "", false
			}
			next = MapValue(nil)
			cur[seg] = next
		}
		cur = next.Map
	}
	return cur, path[len(path)-1], true
}

func setPath(m map[string]Value, path []string, v Value) {
	parent, leaf, ok := descend(m, path, true)
	if !ok {
		return
	}
	parent[leaf] = v
}

func deletePath(m map[string]Value, path []string) {
	parent, leaf, ok := descend(m, path, false)
	if !ok {
		return
	}
	delete(parent, leaf)
}

func insertElem(m map[string]Value, path []string, id, after ElemID, v Value) {
	parent, leaf, ok := descend(m, path, true)
	if !ok {
		return
	}
	list, exists := parent[leaf]
	if !exists || list.Kind != KindList {
		list = ListValue()
	}
	for _, e := range list.List {
		if e.ID == id {
			return
		}
	}
	elem := Elem{ID: id, Value: v}
	pos := 0
	if !after.IsZero() {
		pos = len(list.List)
		for i, e := range list.List {
			if e.ID == after {
				pos = i + 1
				break
			}
		}
	}
	list.List = append(list.List, Elem{})
	copy(list.List[pos+1:], list.List[pos:])
	list.List[pos] = elem
	parent[leaf] = list
}

func removeElem(m map[string]Value, path []string, id ElemID) {
	parent, leaf, ok := descend(m, path, false)
	if !ok {
		return
	}
	list, exists := parent[leaf]
	if !exists || list.Kind != KindList {
		return
	}
	for i, e := range list.List {
		if e.ID == id {
			list.List = append(list.List[:i], list.List[i+1:]...)
			parent[leaf] = list
			return
		}
	}
}
