package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Pin is a retention lease on a record or blob.
type Pin struct {
	Subject string
	Owner   string
	Created string
	Expires sql.NullString
}

// PinRecord upserts a retention lease on a record for an owner. A nil expiry
// pins forever.
func (s *Store) PinRecord(ctx context.Context, recordID, owner string, expires *time.Time, now time.Time) error {
	var exp any
	if expires != nil {
		exp = ts(*expires)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO pins(record_id, owner, created, expires)
SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM records WHERE record_id=?)
ON CONFLICT(record_id, owner) DO UPDATE SET expires=excluded.expires`,
		recordID, owner, ts(now), exp, recordID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: record %s", ErrNotFound, recordID)
	}
	return nil
}

// UnpinRecord drops an owner's lease on a record.
func (s *Store) UnpinRecord(ctx context.Context, recordID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM pins WHERE record_id=? AND owner=?`, recordID, owner)
	return err
}

// PinBlob upserts a retention lease on a blob for an owner.
func (s *Store) PinBlob(ctx context.Context, blobID, owner string, expires *time.Time, now time.Time) error {
	var exp any
	if expires != nil {
		exp = ts(*expires)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO blob_pins(blob_id, owner, created, expires)
SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM blobs WHERE blob_id=?)
ON CONFLICT(blob_id, owner) DO UPDATE SET expires=excluded.expires`,
		blobID, owner, ts(now), exp, blobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: blob %s", ErrNotFound, blobID)
	}
	return nil
}

// UnpinBlob drops an owner's lease on a blob.
func (s *Store) UnpinBlob(ctx context.Context, blobID, owner string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM blob_pins WHERE blob_id=? AND owner=?`, blobID, owner)
	return err
}

// RecordPins returns the active and expired leases on a record.
func (s *Store) RecordPins(ctx context.Context, recordID string) ([]Pin, error) {
	return s.listPins(ctx, "SELECT record_id, owner, created, expires FROM pins WHERE record_id=? ORDER BY owner", recordID)
}

// BlobPins returns the active and expired leases on a blob.
func (s *Store) BlobPins(ctx context.Context, blobID string) ([]Pin, error) {
	return s.listPins(ctx, "SELECT blob_id, owner, created, expires FROM blob_pins WHERE blob_id=? ORDER BY owner", blobID)
}

func (s *Store) listPins(ctx context.Context, query, subject string) ([]Pin, error) {
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pin
	for rows.Next() {
		var p Pin
		if err := rows.Scan(&p.Subject, &p.Owner, &p.Created, &p.Expires); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SweepExpiredRecordPins deletes every record pin whose expiry has passed.
func (s *Store) SweepExpiredRecordPins(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM pins WHERE expires IS NOT NULL AND expires <= ?`, ts(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepOrphanRecords removes every record with no remaining pin, cascading
// its envelopes, indices, and quota reservations. Returns the ids of removed
// records so the caller can delete their snapshot files.
func (s *Store) SweepOrphanRecords(ctx context.Context) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT record_id FROM records r
WHERE NOT EXISTS (SELECT 1 FROM pins p WHERE p.record_id=r.record_id)`)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		orphans = append(orphans, id)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, id := range orphans {
		if err = s.dropRecordTx(ctx, tx, id, nil); err != nil {
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return orphans, nil
}

// SweepBlobPins handles every expired blob pin: a pin whose blob is still a
// dependency of a live, pinned record is extended to the longest dependent
// lease instead of deleted. Pins with no live dependents are dropped, and a
// blob left with no pins, no record links, and no live dependencies is
// removed entirely with every owner's upload reservation released. Returns
// the counts and the ids of blobs whose files should be deleted.
func (s *Store) SweepBlobPins(ctx context.Context, now time.Time) (extended, dropped int64, removedBlobs []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	type expiredPin struct {
		blobID string
		owner  string
	}
	rows, err := tx.QueryContext(ctx, `
SELECT blob_id, owner FROM blob_pins WHERE expires IS NOT NULL AND expires <= ?`, ts(now))
	if err != nil {
		return 0, 0, nil, err
	}
	var expired []expiredPin
	for rows.Next() {
		var p expiredPin
		if err = rows.Scan(&p.blobID, &p.owner); err != nil {
			_ = rows.Close()
			return 0, 0, nil, err
		}
		expired = append(expired, p)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return 0, 0, nil, err
	}
	_ = rows.Close()

	for _, p := range expired {
		var forever bool
		var longest sql.NullString
		forever, longest, err = s.dependentLeaseTx(ctx, tx, p.blobID, now)
		if err != nil {
			return 0, 0, nil, err
		}
		switch {
		case forever:
			if _, err = tx.ExecContext(ctx, `
UPDATE blob_pins SET expires=NULL WHERE blob_id=? AND owner=?`, p.blobID, p.owner); err != nil {
				return 0, 0, nil, err
			}
			extended++
		case longest.Valid:
			if _, err = tx.ExecContext(ctx, `
UPDATE blob_pins SET expires=? WHERE blob_id=? AND owner=?`, longest.String, p.blobID, p.owner); err != nil {
				return 0, 0, nil, err
			}
			extended++
		default:
			if _, err = tx.ExecContext(ctx, `
DELETE FROM blob_pins WHERE blob_id=? AND owner=?`, p.blobID, p.owner); err != nil {
				return 0, 0, nil, err
			}
			dropped++
			var removed bool
			removed, err = s.dropOrphanBlobTx(ctx, tx, p.blobID)
			if err != nil {
				return 0, 0, nil, err
			}
			if removed {
				removedBlobs = append(removedBlobs, p.blobID)
			}
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, nil, err
	}
	return extended, dropped, removedBlobs, nil
}

// dependentLeaseTx finds the longest remaining lease among live, pinned
// records that declare the blob as a dependency. forever means some dependent
// record is pinned without expiry.
func (s *Store) dependentLeaseTx(ctx context.Context, tx *sql.Tx, blobID string, now time.Time) (forever bool, longest sql.NullString, err error) {
	rows, err := tx.QueryContext(ctx, `
SELECT p.expires FROM record_deps d
JOIN pins p ON p.record_id=d.record_id
WHERE d.dep_id=? AND d.kind=? AND (p.expires IS NULL OR p.expires > ?)`,
		blobID, DepRef, ts(now))
	if err != nil {
		return false, longest, err
	}
	defer rows.Close()
	for rows.Next() {
		var exp sql.NullString
		if err := rows.Scan(&exp); err != nil {
			return false, longest, err
		}
		if !exp.Valid {
			return true, longest, nil
		}
		if !longest.Valid || exp.String > longest.String {
			longest = exp
		}
	}
	return false, longest, rows.Err()
}

// dropOrphanBlobTx removes a blob that nothing retains: no pins, no record
// links, no live record dependencies. Every owner's upload reservation is
// released. Returns true when the blob row was deleted and the file should
// go too.
func (s *Store) dropOrphanBlobTx(ctx context.Context, tx *sql.Tx, blobID string) (bool, error) {
	var retained int64
	if err := tx.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(*) FROM blob_pins WHERE blob_id=?) +
	(SELECT COUNT(*) FROM record_blobs WHERE blob_id=?) +
	(SELECT COUNT(*) FROM record_deps WHERE dep_id=? AND kind=?)`,
		blobID, blobID, blobID, DepRef).Scan(&retained); err != nil {
		return false, err
	}
	if retained > 0 {
		return false, nil
	}
	var size int64
	if err := tx.QueryRowContext(ctx, "SELECT size FROM blobs WHERE blob_id=?", blobID).Scan(&size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	rows, err := tx.QueryContext(ctx, `
SELECT owner FROM user_blobs WHERE blob_id=?`, blobID)
	if err != nil {
		return false, err
	}
	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			_ = rows.Close()
			return false, err
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return false, err
	}
	_ = rows.Close()
	// each owner was charged once regardless of repeat uploads
	for _, owner := range owners {
		if err := s.releaseTx(ctx, tx, owner, size); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM user_blobs WHERE blob_id=?", blobID); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE blob_id=?", blobID); err != nil {
		return false, err
	}
	return true, nil
}
