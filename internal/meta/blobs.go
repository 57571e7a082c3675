package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Blob is the global row for one content-addressed blob.
type Blob struct {
	ID      string
	Size    int64
	Created string
	Refs    int64
}

// GetBlob returns a blob row, or ErrNotFound.
func (s *Store) GetBlob(ctx context.Context, blobID string) (*Blob, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT blob_id, size, created, refs FROM blobs WHERE blob_id=?`, blobID)
	var b Blob
	if err := row.Scan(&b.ID, &b.Size, &b.Created, &b.Refs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, blobID)
		}
		return nil, err
	}
	return &b, nil
}

// AddBlobRef records one upload of a blob by an owner. The blob's size is
// charged against the owner's quota only when this is the owner's first
// upload; re-uploads of the same bytes bump the upload counter without a new
// reservation, so bytes_used tracks distinct stored content per owner. The
// global refcount counts owners holding an upload. ensureFile runs inside the
// transaction and receives whether the blob row already existed; it must make
// the file durable (or verify it already is) and its error aborts the whole
// commit.
func (s *Store) AddBlobRef(ctx context.Context, blobID, owner string, size int64, now time.Time, ensureFile func(exists bool) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int64
	exists := true
	if err = tx.QueryRowContext(ctx, "SELECT size FROM blobs WHERE blob_id=?", blobID).Scan(&existing); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		exists = false
		err = nil
	}
	if exists && existing != size {
		err = fmt.Errorf("meta: blob %s size mismatch: have %d, got %d", blobID, existing, size)
		return err
	}

	firstByOwner := false
	if err = tx.QueryRowContext(ctx, `
SELECT 1 FROM user_blobs WHERE blob_id=? AND owner=?`, blobID, owner).Scan(new(int64)); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		firstByOwner = true
		err = nil
	}

	if firstByOwner {
		if err = s.ensureQuotaTx(ctx, tx, owner); err != nil {
			return err
		}
		if err = s.reserveTx(ctx, tx, owner, size); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `
INSERT INTO blobs(blob_id, size, created, refs) VALUES(?, ?, ?, 1)
ON CONFLICT(blob_id) DO UPDATE SET refs=refs+1`, blobID, size, ts(now)); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `
INSERT INTO user_blobs(blob_id, owner, refs, uploads) VALUES(?, ?, 0, 1)`, blobID, owner); err != nil {
			return err
		}
	} else if _, err = tx.ExecContext(ctx, `
UPDATE user_blobs SET uploads=uploads+1 WHERE blob_id=? AND owner=?`, blobID, owner); err != nil {
		return err
	}

	if ensureFile != nil {
		if err = ensureFile(exists); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LinkBlobToRecord binds a blob an owner has uploaded to a record,
// incrementing the owner's link refcount. ErrNotUploaded when the owner never
// uploaded the blob.
func (s *Store) LinkBlobToRecord(ctx context.Context, recordID, blobID, owner string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var uploads int64
	if err = tx.QueryRowContext(ctx, `
SELECT uploads FROM user_blobs WHERE blob_id=? AND owner=?`, blobID, owner).Scan(&uploads); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("%w: blob %s by %s", ErrNotUploaded, blobID, owner)
		}
		return err
	}
	if uploads == 0 {
		err = fmt.Errorf("%w: blob %s by %s", ErrNotUploaded, blobID, owner)
		return err
	}

	res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO record_blobs(record_id, blob_id, owner) VALUES(?, ?, ?)`,
		recordID, blobID, owner)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	// linking the same blob to the same record twice is a no-op
	if n > 0 {
		if _, err = tx.ExecContext(ctx, `
UPDATE user_blobs SET refs=refs+1 WHERE blob_id=? AND owner=?`, blobID, owner); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRecordBlobs returns the blob ids linked to a record, across owners.
func (s *Store) ListRecordBlobs(ctx context.Context, recordID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT blob_id FROM record_blobs WHERE record_id=? ORDER BY blob_id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RemoveBlobUpload drops one of an owner's uploads of a blob. The owner's
// quota reservation is released only when their last upload goes, since the
// size was charged once on their first. Removal is refused while the owner
// still links the blob to a record. Returns true when the caller should
// remove the blob file after commit.
func (s *Store) RemoveBlobUpload(ctx context.Context, blobID, owner string) (removeFile bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	removeFile, err = s.releaseBlobUploadTx(ctx, tx, blobID, owner)
	if err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return removeFile, nil
}

// releaseBlobUploadTx implements RemoveBlobUpload inside a caller's
// transaction. The blob row and its pins go when the last owner leaves.
func (s *Store) releaseBlobUploadTx(ctx context.Context, tx *sql.Tx, blobID, owner string) (bool, error) {
	var size int64
	if err := tx.QueryRowContext(ctx, "SELECT size FROM blobs WHERE blob_id=?", blobID).Scan(&size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: blob %s", ErrNotFound, blobID)
		}
		return false, err
	}
	var uploads, links int64
	if err := tx.QueryRowContext(ctx, `
SELECT uploads, refs FROM user_blobs WHERE blob_id=? AND owner=?`, blobID, owner).Scan(&uploads, &links); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: blob %s by %s", ErrNotUploaded, blobID, owner)
		}
		return false, err
	}
	if uploads == 0 {
		return false, fmt.Errorf("%w: blob %s by %s", ErrNotUploaded, blobID, owner)
	}
	if links > 0 {
		return false, fmt.Errorf("meta: blob %s still linked to records by %s", blobID, owner)
	}
	if uploads > 1 {
		if _, err := tx.ExecContext(ctx, `
UPDATE user_blobs SET uploads=uploads-1 WHERE blob_id=? AND owner=?`, blobID, owner); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.releaseTx(ctx, tx, owner, size); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
DELETE FROM user_blobs WHERE blob_id=? AND owner=?`, blobID, owner); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE blobs SET refs=MAX(refs-1, 0) WHERE blob_id=?`, blobID); err != nil {
		return false, err
	}
	var refs int64
	if err := tx.QueryRowContext(ctx, "SELECT refs FROM blobs WHERE blob_id=?", blobID).Scan(&refs); err != nil {
		return false, err
	}
	if refs > 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE blob_id=?", blobID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM blob_pins WHERE blob_id=?", blobID); err != nil {
		return false, err
	}
	return true, nil
}
