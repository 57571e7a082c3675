package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kk-code-lab/recordlake/internal/crdt"
	"github.com/kk-code-lab/recordlake/internal/envelope"
	"github.com/kk-code-lab/recordlake/internal/meta"
)

// CreateRecord writes a record snapshot to its shard path and inserts the
// record row, reserving the snapshot size against the creator's quota. The
// file goes down first and is removed again if the database rejects the row,
// so a failure never leaves reserved quota without a visible record.
func (s *Store) CreateRecord(ctx context.Context, creator, nonce string, doc *crdt.Document) (string, error) {
	id := RecordID(creator, nonce)
	data := crdt.EncodeDocument(doc)
	path := s.layout.RecordPath(id)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("store: write record snapshot: %w", err)
	}
	rec := meta.Record{
		ID:      id,
		Creator: creator,
		Nonce:   nonce,
		Created: s.clock.Now().Format(time.RFC3339Nano),
		Owner:   creator,
		Version: crdt.EncodeVersion(doc.Version()),
		Size:    int64(len(data)),
	}
	if err := s.meta.InsertRecord(ctx, rec, s.clock.Now()); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return id, nil
}

// GetRecord loads a record row and its current document. Envelope-backed
// records replay their stored log; direct records decode their snapshot.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*meta.Record, *crdt.Document, error) {
	rec, err := s.meta.GetRecord(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	doc, _, err := s.currentDocument(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	return rec, doc, nil
}

// DeleteRecord removes the record row with all its indices and reservations,
// then removes the snapshot file. File deletion happens after commit: a crash
// in between leaves an orphaned file, never a dangling row.
func (s *Store) DeleteRecord(ctx context.Context, recordID string) error {
	if _, err := s.meta.DeleteRecord(ctx, recordID); err != nil {
		return err
	}
	if err := os.Remove(s.layout.RecordPath(recordID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove record snapshot: %w", err)
	}
	return nil
}

// ApplyOps imports raw operations into a direct record, adjusting the quota
// reservation by the snapshot size delta.
func (s *Store) ApplyOps(ctx context.Context, recordID string, ops []crdt.Op) error {
	rec, err := s.meta.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	doc, _, err := s.currentDocument(ctx, recordID)
	if err != nil {
		return err
	}
	doc.ApplyOps(ops)
	data := crdt.EncodeDocument(doc)

	path := s.layout.RecordPath(recordID)
	tmp, err := stageFile(path, data)
	if err != nil {
		return fmt.Errorf("store: write record snapshot: %w", err)
	}
	err = s.meta.UpdateRecordSnapshot(ctx, recordID, rec.Owner,
		crdt.EncodeVersion(doc.Version()), int64(len(data)))
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("store: swap record snapshot: %w", err)
	}
	return nil
}

// currentDocument reconstructs the record's document: replaying the envelope
// log when one exists, decoding the snapshot file otherwise. Read-only and
// safe to run concurrently with writers.
func (s *Store) currentDocument(ctx context.Context, recordID string) (*crdt.Document, int, error) {
	envs, err := s.meta.ListEnvelopes(ctx, recordID)
	if err != nil {
		return nil, 0, err
	}
	if len(envs) > 0 {
		doc := crdt.NewDocument()
		for _, env := range envs {
			signed, err := envelope.Decode(env.Raw)
			if err != nil {
				return nil, 0, fmt.Errorf("store: stored envelope %s: %w", env.StoreOrder, err)
			}
			p, err := envelope.DecodePayload(signed.Payload)
			if err != nil {
				return nil, 0, fmt.Errorf("store: stored envelope %s: %w", env.StoreOrder, err)
			}
			ops, err := crdt.DecodeOps(p.Ops)
			if err != nil {
				return nil, 0, fmt.Errorf("store: stored envelope %s: %w", env.StoreOrder, err)
			}
			doc.ApplyOps(ops)
		}
		return doc, len(envs), nil
	}

	data, err := os.ReadFile(s.layout.RecordPath(recordID))
	if err != nil {
		if os.IsNotExist(err) {
			return crdt.NewDocument(), 0, nil
		}
		return nil, 0, fmt.Errorf("store: read record snapshot: %w", err)
	}
	doc, err := crdt.DecodeDocument(data)
	if err != nil {
		return nil, 0, fmt.Errorf("store: decode record snapshot: %w", err)
	}
	return doc, 0, nil
}

// stageFile writes data to a uniquely named file next to path and returns
// its name, so concurrent writers of the same path never share an
// intermediate file. The caller renames it into place or removes it.
func stageFile(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return "", err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := stageFile(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
