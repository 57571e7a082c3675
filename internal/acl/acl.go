// Package acl implements per-record access control: a public flag plus
// manager/writer/reader identity sets, loaded from the acl container of a
// record document.
package acl

import (
	"sort"
	"strings"

	"github.com/kk-code-lab/recordlake/internal/crdt"
)

// Container is the document container holding the ACL.
const Container = "acl"

// ACL is a record's access control list. Managers may change the ACL itself,
// managers and writers may change ordinary fields, and all three sets (plus
// everyone when Public) may read.
type ACL struct {
	Public   bool
	Managers []string
	Writers  []string
	Readers  []string
}

// FromContainer loads an ACL from a materialized acl container value. A
// missing or empty container yields the zero ACL, which denies everything.
func FromContainer(v crdt.Value) ACL {
	var a ACL
	if v.Kind != crdt.KindMap {
		return a
	}
	if pub, ok := v.Map["public"]; ok && pub.Kind == crdt.KindBool {
		a.Public = pub.Bool
	}
	a.Managers = identityList(v.Map["managers"])
	a.Writers = identityList(v.Map["writers"])
	a.Readers = identityList(v.Map["readers"])
	return a
}

func identityList(v crdt.Value) []string {
	ids, ok := v.Strings()
	if !ok {
		return nil
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CanManage reports whether the identity may alter the ACL itself.
func (a ACL) CanManage(id string) bool {
	return contains(a.Managers, id)
}

// CanWrite reports whether the identity may alter ordinary fields.
func (a ACL) CanWrite(id string) bool {
	return a.CanManage(id) || contains(a.Writers, id)
}

// CanRead reports whether the identity may read the record.
func (a ACL) CanRead(id string) bool {
	return a.Public || a.CanWrite(id) || contains(a.Readers, id)
}

// ReadIndex returns the flattened, sorted set of every identity with any
// access, used as the record's authorization-free read filter.
func (a ACL) ReadIndex() []string {
	set := map[string]struct{}{}
	for _, ids := range [][]string{a.Managers, a.Writers, a.Readers} {
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Equal compares membership with set semantics; list order does not matter.
func (a ACL) Equal(b ACL) bool {
	if a.Public != b.Public {
		return false
	}
	return sameSet(a.Managers, b.Managers) &&
		sameSet(a.Writers, b.Writers) &&
		sameSet(a.Readers, b.Readers)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		as := map[string]struct{}{}
		for _, v := range a {
			as[v] = struct{}{}
		}
		bs := map[string]struct{}{}
		for _, v := range b {
			bs[v] = struct{}{}
		}
		if len(as) != len(bs) {
			return false
		}
		for v := range as {
			if _, ok := bs[v]; !ok {
				return false
			}
		}
		return true
	}
	for _, v := range a {
		if !contains(b, v) {
			return false
		}
	}
	return true
}

// ResolvePath resolves a dotted authorization path against materialized
// document containers. The first segment names a container, the rest walk map
// fields; the terminal value must be a string or list of strings. Any other
// shape resolves to no identities.
func ResolvePath(containers map[string]crdt.Value, path string) ([]string, bool) {
	segs := strings.Split(path, ".")
	if len(segs) < 2 {
		return nil, false
	}
	v, ok := containers[segs[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segs[1 : len(segs)-1] {
		if v.Kind != crdt.KindMap {
			return nil, false
		}
		v, ok = v.Map[seg]
		if !ok {
			return nil, false
		}
	}
	if v.Kind != crdt.KindMap {
		return nil, false
	}
	leaf, ok := v.Map[segs[len(segs)-1]]
	if !ok {
		return nil, false
	}
	return leaf.Strings()
}
