// Package validate walks a document diff against a schema, enforcing both
// field-type correctness and the authorization rules attached via Restricted
// wrappers.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kk-code-lab/recordlake/internal/acl"
	"github.com/kk-code-lab/recordlake/internal/crdt"
	"github.com/kk-code-lab/recordlake/internal/schema"
)

// Context carries the actor being judged. FirstEnvelope marks the envelope
// that brings a record into existence: its author is implicitly authorized for
// every change, since no prior state exists to grant anything.
type Context struct {
	Author        string
	FirstEnvelope bool
}

// Diff validates every change between two document states within the schema's
// container. Changes in other containers are ignored. Authorization rules
// resolve against the old state, never the mutated one. The result depends
// only on the two states, the schema, and the context, so replicas replaying
// the same envelopes reach the same verdicts.
func Diff(oldContainers, newContainers map[string]crdt.Value, s *schema.Schema, vctx Context) error {
	oldC := oldContainers[s.Container]
	newC := newContainers[s.Container]
	for _, ch := range crdt.DiffContainer(oldC, newC) {
		if err := validateChange(oldContainers, s, ch, vctx); err != nil {
			return err
		}
	}
	return nil
}

func validateChange(oldContainers map[string]crdt.Value, s *schema.Schema, ch crdt.Change, vctx Context) error {
	field, wrappers, err := walkPath(s.Root, ch.Path)
	if err != nil {
		return err
	}

	op := changeOp(ch.Kind)
	if !vctx.FirstEnvelope {
		for _, actions := range wrappers {
			if !authorized(oldContainers, actions, op, vctx.Author) {
				return fmt.Errorf("%s of %s.%s by %s: %w",
					ch.Kind, s.Container, strings.Join(ch.Path, "."), vctx.Author, ErrDenied)
			}
		}
	}

	if ch.Kind == crdt.Delete {
		return nil
	}
	if ch.ListElem != nil {
		// list insert: the element value validates against the element field
		if field.Kind == schema.Any {
			return nil
		}
		if field.Kind != schema.List {
			return mismatch(strings.Join(ch.Path, "."), "list", field.Kind.String())
		}
		return Value(*ch.New, field.Elem)
	}
	return Value(*ch.New, field)
}

func changeOp(k crdt.ChangeKind) schema.Op {
	switch k {
	case crdt.Create:
		return schema.OpCreate
	case crdt.Update:
		return schema.OpUpdate
	default:
		return schema.OpDelete
	}
}

// walkPath descends the schema tree along a change path, unwrapping Restricted
// layers and collecting each layer's actions outermost-first. An Any field
// terminates the walk: everything beneath it is opaque.
func walkPath(root *schema.Field, path []string) (*schema.Field, [][]schema.Action, error) {
	var wrappers [][]schema.Action
	cur := root
	for depth := 0; ; depth++ {
		for cur.Kind == schema.Restricted {
			wrappers = append(wrappers, cur.Actions)
			cur = cur.Value
		}
		if depth == len(path) || cur.Kind == schema.Any {
			return cur, wrappers, nil
		}
		if cur.Kind != schema.Map {
			return nil, nil, mismatch(strings.Join(path[:depth], "."), "map", cur.Kind.String())
		}
		child, ok := cur.Fields[path[depth]]
		if !ok {
			return nil, nil, mismatch(strings.Join(path[:depth+1], "."), "declared field", "undeclared field")
		}
		cur = child
	}
}

func authorized(oldContainers map[string]crdt.Value, actions []schema.Action, op schema.Op, author string) bool {
	for _, a := range actions {
		if !a.Ops.Has(op) {
			continue
		}
		if a.Who.Anyone {
			return true
		}
		// unresolvable paths authorize nobody rather than failing hard
		ids, ok := acl.ResolvePath(oldContainers, a.Who.Path)
		if !ok {
			continue
		}
		for _, id := range ids {
			if id == author {
				return true
			}
		}
	}
	return false
}

// Value recursively matches a runtime value against the expected field.
func Value(v crdt.Value, f *schema.Field) error {
	f, _ = f.Unwrap()
	switch f.Kind {
	case schema.Any:
		return nil
	case schema.Bool:
		if v.Kind != crdt.KindBool {
			return mismatch("", "bool", v.Kind.String())
		}
	case schema.F64:
		if v.Kind != crdt.KindF64 {
			return mismatch("", "f64", v.Kind.String())
		}
	case schema.I64:
		if v.Kind != crdt.KindI64 {
			return mismatch("", "i64", v.Kind.String())
		}
	case schema.String:
		if v.Kind != crdt.KindString {
			return mismatch("", "string", v.Kind.String())
		}
	case schema.Binary:
		if v.Kind != crdt.KindBytes {
			return mismatch("", "binary", v.Kind.String())
		}
	case schema.List:
		if v.Kind != crdt.KindList {
			return mismatch("", "list", v.Kind.String())
		}
		for i, e := range v.List {
			if err := Value(e.Value, f.Elem); err != nil {
				return &Error{Kind: InvalidElement, Field: strconv.Itoa(i), Err: err}
			}
		}
	case schema.Map:
		if v.Kind != crdt.KindMap {
			return mismatch("", "map", v.Kind.String())
		}
		for name, childField := range f.Fields {
			child, ok := v.Map[name]
			if !ok {
				return &Error{Kind: MissingField, Field: name}
			}
			if err := Value(child, childField); err != nil {
				return &Error{Kind: InvalidField, Field: name, Err: err}
			}
		}
		for name := range v.Map {
			if _, ok := f.Fields[name]; !ok {
				return mismatch(name, "declared field", "undeclared field")
			}
		}
	}
	return nil
}
