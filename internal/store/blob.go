package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kk-code-lab/recordlake/internal/meta"
)

// StoreBlob stores content-addressed bytes for an owner, charging the blob's
// size against the owner's quota. Re-uploading an existing blob verifies the
// stored file still hashes to its id before the reference count moves. The
// file write happens inside the metadata transaction's ensure hook, and a
// fresh file is removed again if the transaction fails.
func (s *Store) StoreBlob(ctx context.Context, owner string, data []byte) (string, error) {
	if int64(len(data)) > s.maxBlobSize {
		return "", fmt.Errorf("%w: %d bytes over limit %d", ErrBlobTooLarge, len(data), s.maxBlobSize)
	}
	id := BlobID(data)
	path := s.layout.BlobPath(id)

	wrote := false
	ensure := func(exists bool) error {
		if exists {
			stored, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("store: read blob %s: %w", id, err)
			}
			if BlobID(stored) != id {
				return fmt.Errorf("%w: %s", ErrBlobCorrupt, id)
			}
			return nil
		}
		if err := writeFileAtomic(path, data); err != nil {
			return fmt.Errorf("store: write blob %s: %w", id, err)
		}
		wrote = true
		return nil
	}
	if err := s.meta.AddBlobRef(ctx, id, owner, int64(len(data)), s.clock.Now(), ensure); err != nil {
		if wrote {
			s.reapStagedBlob(ctx, id, path)
		}
		return "", err
	}
	return id, nil
}

// reapStagedBlob removes the file written for a failed upload, unless a
// concurrent identical upload committed a row against it in the meantime.
func (s *Store) reapStagedBlob(ctx context.Context, id, path string) {
	if _, err := s.meta.GetBlob(ctx, id); errors.Is(err, meta.ErrNotFound) {
		_ = os.Remove(path)
	}
}

// GetBlob reads blob bytes, verifying they still hash to the id.
func (s *Store) GetBlob(ctx context.Context, blobID string) ([]byte, error) {
	if _, err := s.meta.GetBlob(ctx, blobID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.layout.BlobPath(blobID))
	if err != nil {
		return nil, fmt.Errorf("store: read blob %s: %w", blobID, err)
	}
	if BlobID(data) != blobID {
		return nil, fmt.Errorf("%w: %s", ErrBlobCorrupt, blobID)
	}
	return data, nil
}

// RemoveBlob drops one of the owner's uploads of a blob, refusing while the
// owner still links it to a record. The file goes only when the last owner's
// last upload does, after the row deletions commit.
func (s *Store) RemoveBlob(ctx context.Context, blobID, owner string) error {
	removeFile, err := s.meta.RemoveBlobUpload(ctx, blobID, owner)
	if err != nil {
		return err
	}
	if removeFile {
		if err := os.Remove(s.layout.BlobPath(blobID)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: remove blob %s: %w", blobID, err)
		}
	}
	return nil
}

// LinkBlobToRecord binds an uploaded blob to a record for an owner. The
// owner must have uploaded the blob first.
func (s *Store) LinkBlobToRecord(ctx context.Context, recordID, blobID, owner string) error {
	if _, err := s.meta.GetRecord(ctx, recordID); err != nil {
		return err
	}
	return s.meta.LinkBlobToRecord(ctx, recordID, blobID, owner)
}
