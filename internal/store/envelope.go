package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kk-code-lab/recordlake/internal/acl"
	"github.com/kk-code-lab/recordlake/internal/crdt"
	"github.com/kk-code-lab/recordlake/internal/envelope"
	"github.com/kk-code-lab/recordlake/internal/meta"
	"github.com/kk-code-lab/recordlake/internal/schema"
	"github.com/kk-code-lab/recordlake/internal/validate"
)

// maxIngestRetries bounds re-replays after a concurrent commit invalidated
// the observed frontier.
const maxIngestRetries = 3

// StoreEnvelope ingests one signed envelope for a record. Every step before
// the final transaction is a hard failure point with no visible side effect:
// decode, signature verification over the exact payload bytes, replay of the
// stored log, pre-state authorization, schema diff validation, and blob
// reference extraction all happen first; a single transaction then reserves
// quota against an active pinner and persists the envelope with its derived
// indices.
func (s *Store) StoreEnvelope(ctx context.Context, recordID string, raw []byte) error {
	signed, err := envelope.Decode(raw)
	if err != nil {
		return fmt.Errorf("store: decode envelope: %w", err)
	}
	p, err := envelope.DecodePayload(signed.Payload)
	if err != nil {
		return fmt.Errorf("store: decode payload: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	doc, err := s.resolver.Resolve(rctx, p.Author)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDidResolution, p.Author, err)
	}
	if !doc.Verify(signed.Payload, signed.Signature) {
		return fmt.Errorf("%w: author %s", ErrInvalidSignature, p.Author)
	}

	ops, err := crdt.DecodeOps(p.Ops)
	if err != nil {
		return fmt.Errorf("store: decode operations: %w", err)
	}

	// A writer can commit between this replay and the version guard in the
	// final transaction. Authorization and validation bind to the replayed
	// state, so a stale replay is thrown away and the whole check runs again
	// against the new frontier.
	for attempt := 0; ; attempt++ {
		err = s.ingestEnvelope(ctx, recordID, p, ops, raw)
		if attempt < maxIngestRetries &&
			(errors.Is(err, meta.ErrStaleVersion) || errors.Is(err, meta.ErrRecordExists)) {
			continue
		}
		return err
	}
}

func (s *Store) ingestEnvelope(ctx context.Context, recordID string, p *envelope.Payload, ops []crdt.Op, raw []byte) error {
	current, stored, err := s.currentDocument(ctx, recordID)
	if err != nil {
		return err
	}
	first := current.IsEmpty()
	if !first {
		if current.Version().IncludesAll(p.To) {
			// already causally included, nothing new to store
			return nil
		}
		if !current.Version().IncludesAll(p.From) {
			return fmt.Errorf("%w: envelope depends on unseen operations", ErrVersionMismatch)
		}
	}

	next := current.Fork()
	next.ApplyOps(ops)
	if !p.To.Equal(next.Version()) {
		return fmt.Errorf("%w: author %s", ErrVersionMismatch, p.Author)
	}

	oldContainers := current.Containers()
	newContainers := next.Containers()

	if !first {
		oldACL := acl.FromContainer(oldContainers[acl.Container])
		if !oldACL.CanWrite(p.Author) {
			return fmt.Errorf("%w: %s cannot write record %s", ErrAccessDenied, p.Author, recordID)
		}
		newACL := acl.FromContainer(newContainers[acl.Container])
		if !oldACL.Equal(newACL) && !oldACL.CanManage(p.Author) {
			return fmt.Errorf("%w: %s cannot manage record %s", ErrAccessDenied, p.Author, recordID)
		}
	}

	schemas, schemaDeps, err := s.loadSchemas(newContainers)
	if err != nil {
		return err
	}
	vctx := validate.Context{Author: p.Author, FirstEnvelope: first}
	for _, sch := range schemas {
		if err := validate.Diff(oldContainers, newContainers, sch, vctx); err != nil {
			return &schemaError{container: sch.Container, err: err}
		}
	}

	var rec *meta.Record
	var owner string
	if first {
		creator, nonce, ok := genesisFields(newContainers[schema.RecordContainer])
		if !ok {
			return fmt.Errorf("%w: first envelope for %s lacks creator and nonce", ErrAccessDenied, recordID)
		}
		if creator != p.Author {
			return fmt.Errorf("%w: first envelope author %s is not creator %s", ErrAccessDenied, p.Author, creator)
		}
		if RecordID(creator, nonce) != recordID {
			return fmt.Errorf("%w: %s", ErrRecordID, recordID)
		}
		rec = &meta.Record{
			ID:      recordID,
			Creator: creator,
			Nonce:   nonce,
			Created: s.clock.Now().Format(time.RFC3339Nano),
			Owner:   creator,
		}
		owner = creator
	} else {
		if stored == 0 {
			// snapshot-backed records take direct operations, not envelopes
			return fmt.Errorf("%w: record %s has no envelope log", ErrAccessDenied, recordID)
		}
		mrec, err := s.meta.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		owner = mrec.Owner
	}

	refSet := make(map[string]struct{})
	for _, sch := range schemas {
		schema.BlobRefs(sch, newContainers[sch.Container], refSet)
	}
	refs := make([]string, 0, len(refSet))
	for id := range refSet {
		refs = append(refs, id)
	}
	sort.Strings(refs)

	newACL := acl.FromContainer(newContainers[acl.Container])
	readIndex := appendMissing(newACL.ReadIndex(), owner)

	commit := meta.EnvelopeCommit{
		RecordID:    recordID,
		StoreOrder:  s.hlc.Next(),
		Author:      p.Author,
		FromVersion: crdt.EncodeVersion(p.From),
		ToVersion:   crdt.EncodeVersion(p.To),
		Raw:         raw,
		Size:        int64(len(raw)),
		First:       first,
		Record:      rec,
		OldVersion:  crdt.EncodeVersion(current.Version()),
		NewVersion:  crdt.EncodeVersion(next.Version()),
		ReadIndex:   readIndex,
		RefDeps:     refs,
		SchemaDeps:  schemaDeps,
	}
	return s.meta.CommitEnvelope(ctx, commit, s.clock.Now())
}

// EnvelopesSince returns every stored envelope whose resulting version the
// remote vector does not include, in store order.
func (s *Store) EnvelopesSince(ctx context.Context, recordID string, remote crdt.VersionVector) ([]meta.Envelope, error) {
	envs, err := s.meta.ListEnvelopes(ctx, recordID)
	if err != nil {
		return nil, err
	}
	var out []meta.Envelope
	for _, env := range envs {
		to, err := crdt.DecodeVersion(env.ToVersion)
		if err != nil {
			return nil, fmt.Errorf("store: stored envelope %s: %w", env.StoreOrder, err)
		}
		if !remote.IncludesAll(to) {
			out = append(out, env)
		}
	}
	return out, nil
}

// loadSchemas assembles the record's schema set: the builtin record and acl
// containers plus every custom schema the record declares by blob hash.
// Custom schema blobs are read from the blob store before any transaction
// opens. The returned hashes become schema-tagged dependency rows.
func (s *Store) loadSchemas(containers map[string]crdt.Value) ([]*schema.Schema, []string, error) {
	schemas := schema.Builtin()
	record := containers[schema.RecordContainer]
	if record.Kind != crdt.KindMap {
		return schemas, nil, nil
	}
	declared, ok := record.Map["schemas"]
	if !ok || declared.Kind != crdt.KindMap {
		return schemas, nil, nil
	}

	names := make([]string, 0, len(declared.Map))
	for name := range declared.Map {
		names = append(names, name)
	}
	sort.Strings(names)

	var deps []string
	for _, name := range names {
		ref := declared.Map[name]
		if ref.Kind != crdt.KindBytes || len(ref.Bytes) != 32 {
			return nil, nil, fmt.Errorf("%w: container %s declares malformed hash", ErrSchemaNotFound, name)
		}
		blobID := hex.EncodeToString(ref.Bytes)
		data, err := os.ReadFile(s.layout.BlobPath(blobID))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, fmt.Errorf("%w: container %s blob %s", ErrSchemaNotFound, name, blobID)
			}
			return nil, nil, fmt.Errorf("store: read schema blob %s: %w", blobID, err)
		}
		sch, err := schema.Decode(data)
		if err != nil {
			return nil, nil, &schemaError{container: name, err: err}
		}
		sch.Container = name
		schemas = append(schemas, sch)
		deps = append(deps, blobID)
	}
	return schemas, deps, nil
}

// genesisFields pulls the declared creator and nonce out of the record
// container.
func genesisFields(record crdt.Value) (creator, nonce string, ok bool) {
	if record.Kind != crdt.KindMap {
		return "", "", false
	}
	c, okC := record.Map["creator"]
	n, okN := record.Map["nonce"]
	if !okC || !okN || c.Kind != crdt.KindString || n.Kind != crdt.KindString {
		return "", "", false
	}
	return c.Str, n.Str, true
}

func appendMissing(ids []string, id string) []string {
	for _, have := range ids {
		if have == id {
			return ids
		}
	}
	ids = append(ids, id)
	sort.Strings(ids)
	return ids
}
