package crdt

// OpKind identifies a document operation.
type OpKind uint8

const (
	// OpSet writes a value at a map path, creating intermediate maps.
	OpSet OpKind = iota
	// OpDelete removes the entry at a map path.
	OpDelete
	// OpInsert inserts a list element after a predecessor element.
	OpInsert
	// OpRemove removes a list element by id.
	OpRemove
)

// Op is one atomic document operation. Ops are identified by (Author, Seq) and
// totally ordered by (Lamport, Author, Seq), which makes replay of any op set
// deterministic regardless of arrival order.
type Op struct {
	Author    string
	Seq       uint64
	Lamport   uint64
	Container string
	Path      []string
	Kind      OpKind
	Value     Value  // OpSet, OpInsert
	Elem      ElemID // OpInsert, OpRemove
	After     ElemID // OpInsert: predecessor, zero for head
}

func opLess(a, b Op) bool {
	if a.Lamport != b.Lamport {
		return a.Lamport < b.Lamport
	}
	if a.Author != b.Author {
		return a.Author < b.Author
	}
	return a.Seq < b.Seq
}

// Mutation accumulates ops authored against a document snapshot. Sequence and
// lamport numbers continue from the snapshot's frontier.
type Mutation struct {
	author  string
	seq     uint64
	lamport uint64
	ops     []Op
}

// Mutate starts a mutation by the given author on top of the document state.
func (d *Document) Mutate(author string) *Mutation {
	return &Mutation{
		author:  author,
		seq:     d.vv[author],
		lamport: d.lamport,
	}
}

func (m *Mutation) next() (uint64, uint64) {
	m.seq++
	m.lamport++
	return m.seq, m.lamport
}

// Set records a value write at a map path.
func (m *Mutation) Set(container string, path []string, v Value) *Mutation {
	seq, lamport := m.next()
	m.ops = append(m.ops, Op{
		Author: m.author, Seq: seq, Lamport: lamport,
		Container: container, Path: append([]string(nil), path...),
		Kind: OpSet, Value: v.Clone(),
	})
	return m
}

// Delete records a map entry removal.
func (m *Mutation) Delete(container string, path []string) *Mutation {
	seq, lamport := m.next()
	m.ops = append(m.ops, Op{
		Author: m.author, Seq: seq, Lamport: lamport,
		Container: container, Path: append([]string(nil), path...),
		Kind: OpDelete,
	})
	return m
}

// Insert records a list element insertion after the given predecessor and
// returns the new element's id.
func (m *Mutation) Insert(container string, path []string, after ElemID, v Value) ElemID {
	seq, lamport := m.next()
	id := ElemID{Author: m.author, Seq: seq}
	m.ops = append(m.ops, Op{
		Author: m.author, Seq: seq, Lamport: lamport,
		Container: container, Path: append([]string(nil), path...),
		Kind: OpInsert, Value: v.Clone(), Elem: id, After: after,
	})
	return id
}

// Remove records a list element removal by id.
func (m *Mutation) Remove(container string, path []string, id ElemID) *Mutation {
	seq, lamport := m.next()
	m.ops = append(m.ops, Op{
		Author: m.author, Seq: seq, Lamport: lamport,
		Container: container, Path: append([]string(nil), path...),
		Kind: OpRemove, Elem: id,
	})
	return m
}

// Ops returns the accumulated ops.
func (m *Mutation) Ops() []Op { return m.ops }
