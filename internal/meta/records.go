package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Dependency kinds in record_deps.
const (
	DepRef    = "ref"
	DepSchema = "schema"
)

// Record is the authoritative row for one record.
type Record struct {
	ID      string
	Creator string
	Nonce   string
	Created string
	Owner   string
	Version []byte
	Size    int64
}

// Envelope is one stored change envelope.
type Envelope struct {
	RecordID    string
	StoreOrder  string
	Author      string
	FromVersion []byte
	ToVersion   []byte
	Raw         []byte
	Size        int64
	QuotaOwner  string
}

// InsertRecord creates a record row on the direct (non-envelope) path,
// reserving the record size against the owner's quota and pinning the record
// for the owner in the same transaction.
func (s *Store) InsertRecord(ctx context.Context, rec Record, now time.Time) error {
	if rec.ID == "" || rec.Owner == "" {
		return errors.New("meta: record id and owner required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = s.ensureQuotaTx(ctx, tx, rec.Owner); err != nil {
		return err
	}
	if err = s.reserveTx(ctx, tx, rec.Owner, rec.Size); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO records(record_id, creator, nonce, created, owner, version, size)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Creator, rec.Nonce, rec.Created, rec.Owner, blob(rec.Version), rec.Size); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
			err = fmt.Errorf("%w: %s", ErrRecordExists, rec.ID)
		}
		return err
	}
	if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO pins(record_id, owner, created, expires) VALUES(?, ?, ?, NULL)`,
		rec.ID, rec.Owner, ts(now)); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRecord returns a record row, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT record_id, creator, nonce, created, owner, version, size
FROM records WHERE record_id=?`, recordID)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.Creator, &rec.Nonce, &rec.Created, &rec.Owner, &rec.Version, &rec.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: record %s", ErrNotFound, recordID)
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateRecordSnapshot persists a new version vector and size after a direct
// operation import, reserving or releasing the size delta atomically.
func (s *Store) UpdateRecordSnapshot(ctx context.Context, recordID, owner string, version []byte, newSize int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var oldSize int64
	if err = tx.QueryRowContext(ctx, "SELECT size FROM records WHERE record_id=?", recordID).Scan(&oldSize); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("%w: record %s", ErrNotFound, recordID)
		}
		return err
	}
	delta := newSize - oldSize
	switch {
	case delta > 0:
		if err = s.ensureQuotaTx(ctx, tx, owner); err != nil {
			return err
		}
		if err = s.reserveTx(ctx, tx, owner, delta); err != nil {
			return err
		}
	case delta < 0:
		if err = s.releaseTx(ctx, tx, owner, -delta); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE records SET version=?, size=? WHERE record_id=?`, blob(version), newSize, recordID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRecord removes a record and every row hanging off it, releasing the
// reserved quota of each charged owner and decrementing the owner's link
// refcount for every blob the record referenced. Returns the record's size so
// the caller can remove the snapshot file after commit.
func (s *Store) DeleteRecord(ctx context.Context, recordID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	var size int64
	if err = s.dropRecordTx(ctx, tx, recordID, &size); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return size, nil
}

// dropRecordTx deletes one record with cascading cleanup inside an open
// transaction. Shared by DeleteRecord and the GC orphan sweep.
func (s *Store) dropRecordTx(ctx context.Context, tx *sql.Tx, recordID string, size *int64) error {
	var rec Record
	err := tx.QueryRowContext(ctx, `
SELECT record_id, owner, size FROM records WHERE record_id=?`, recordID).
		Scan(&rec.ID, &rec.Owner, &rec.Size)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: record %s", ErrNotFound, recordID)
		}
		return err
	}
	if size != nil {
		*size = rec.Size
	}

	// release per-owner envelope reservations, then the direct-path remainder
	var envTotal int64
	rows, err := tx.QueryContext(ctx, `
SELECT quota_owner, COALESCE(SUM(size), 0) FROM envelopes WHERE record_id=? GROUP BY quota_owner`, recordID)
	if err != nil {
		return err
	}
	type charge struct {
		owner string
		n     int64
	}
	var charges []charge
	for rows.Next() {
		var c charge
		if err = rows.Scan(&c.owner, &c.n); err != nil {
			_ = rows.Close()
			return err
		}
		charges = append(charges, c)
		envTotal += c.n
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()
	for _, c := range charges {
		if err = s.releaseTx(ctx, tx, c.owner, c.n); err != nil {
			return err
		}
	}
	if base := rec.Size - envTotal; base > 0 {
		if err = s.releaseTx(ctx, tx, rec.Owner, base); err != nil {
			return err
		}
	}

	// drop each owner's link refcount for blobs this record referenced
	if _, err = tx.ExecContext(ctx, `
UPDATE user_blobs SET refs=MAX(refs-1, 0)
WHERE EXISTS (
	SELECT 1 FROM record_blobs rb
	WHERE rb.record_id=? AND rb.blob_id=user_blobs.blob_id AND rb.owner=user_blobs.owner
)`, recordID); err != nil {
		return err
	}

	for _, stmt := range []string{
		"DELETE FROM envelopes WHERE record_id=?",
		"DELETE FROM record_deps WHERE record_id=?",
		"DELETE FROM acl_read WHERE record_id=?",
		"DELETE FROM record_blobs WHERE record_id=?",
		"DELETE FROM pins WHERE record_id=?",
		"DELETE FROM sync_peers WHERE record_id=?",
		"DELETE FROM records WHERE record_id=?",
	} {
		if _, err = tx.ExecContext(ctx, stmt, recordID); err != nil {
			return err
		}
	}
	return nil
}

// ListEnvelopes returns every envelope of a record in stored order.
func (s *Store) ListEnvelopes(ctx context.Context, recordID string) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT record_id, store_order, author, from_version, to_version, raw, size, quota_owner
FROM envelopes WHERE record_id=? ORDER BY store_order`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Envelope
	for rows.Next() {
		var env Envelope
		if err := rows.Scan(&env.RecordID, &env.StoreOrder, &env.Author, &env.FromVersion,
			&env.ToVersion, &env.Raw, &env.Size, &env.QuotaOwner); err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MaxStoreOrder returns the newest envelope stamp across all records, or ""
// when no envelopes exist.
func (s *Store) MaxStoreOrder(ctx context.Context) (string, error) {
	var stamp sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(store_order) FROM envelopes").Scan(&stamp); err != nil {
		return "", err
	}
	return stamp.String, nil
}

// EnvelopeCommit carries everything one accepted envelope persists.
type EnvelopeCommit struct {
	RecordID    string
	StoreOrder  string
	Author      string
	FromVersion []byte
	ToVersion   []byte
	Raw         []byte
	Size        int64
	First       bool
	Record      *Record // required when First
	OldVersion  []byte  // record row version the replay observed; guards the commit
	NewVersion  []byte
	ReadIndex   []string
	RefDeps     []string
	SchemaDeps  []string
}

// CommitEnvelope persists one accepted envelope atomically: quota
// reservation against an active pinner, the envelope row, the record's
// version vector (or the record row itself on the first envelope), the ACL
// read-index, and the blob dependency rows. Everything commits or nothing
// does. The record's stored version must still equal OldVersion; a
// concurrent commit since the caller's replay surfaces as ErrStaleVersion so
// the caller can re-replay and re-validate.
func (s *Store) CommitEnvelope(ctx context.Context, c EnvelopeCommit, now time.Time) error {
	if c.RecordID == "" || c.StoreOrder == "" {
		return errors.New("meta: record id and store order required")
	}
	if c.First && c.Record == nil {
		return errors.New("meta: first envelope requires record row")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var quotaOwner string
	if c.First {
		rec := *c.Record
		rec.Version = c.NewVersion
		rec.Size = c.Size
		if _, err = tx.ExecContext(ctx, `
INSERT INTO records(record_id, creator, nonce, created, owner, version, size)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Creator, rec.Nonce, rec.Created, rec.Owner, blob(rec.Version), rec.Size); err != nil {
			if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "constraint") {
				err = fmt.Errorf("%w: %s", ErrRecordExists, rec.ID)
			}
			return err
		}
		if err = s.ensureQuotaTx(ctx, tx, rec.Owner); err != nil {
			return err
		}
		if err = s.reserveTx(ctx, tx, rec.Owner, c.Size); err != nil {
			return err
		}
		// the creator pins what they create; the pin carries no expiry until
		// someone sets one
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO pins(record_id, owner, created, expires) VALUES(?, ?, ?, NULL)`,
			c.RecordID, rec.Owner, ts(now)); err != nil {
			return err
		}
		quotaOwner = rec.Owner
	} else {
		quotaOwner, err = s.reserveForPinnerTx(ctx, tx, c.RecordID, c.Size, now)
		if err != nil {
			return err
		}
		var res sql.Result
		if res, err = tx.ExecContext(ctx, `
UPDATE records SET version=?, size=size+? WHERE record_id=? AND version=?`,
			blob(c.NewVersion), c.Size, c.RecordID, blob(c.OldVersion)); err != nil {
			return err
		}
		var n int64
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n == 0 {
			err = fmt.Errorf("%w: record %s", ErrStaleVersion, c.RecordID)
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO envelopes(record_id, store_order, author, from_version, to_version, raw, size, quota_owner)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RecordID, c.StoreOrder, c.Author, blob(c.FromVersion), blob(c.ToVersion), c.Raw, c.Size, quotaOwner); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM acl_read WHERE record_id=?", c.RecordID); err != nil {
		return err
	}
	for _, id := range c.ReadIndex {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO acl_read(record_id, identity) VALUES(?, ?)`, c.RecordID, id); err != nil {
			return err
		}
	}

	// ref deps are a rebuildable projection of the new state: replace them
	// wholesale, leaving schema deps untouched
	if _, err = tx.ExecContext(ctx, `
DELETE FROM record_deps WHERE record_id=? AND kind=?`, c.RecordID, DepRef); err != nil {
		return err
	}
	for _, dep := range c.RefDeps {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO record_deps(record_id, dep_id, kind) VALUES(?, ?, ?)`, c.RecordID, dep, DepRef); err != nil {
			return err
		}
	}
	for _, dep := range c.SchemaDeps {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO record_deps(record_id, dep_id, kind) VALUES(?, ?, ?)`, c.RecordID, dep, DepSchema); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// reserveForPinnerTx charges size bytes to the first active pinner of the
// record whose quota can absorb it.
func (s *Store) reserveForPinnerTx(ctx context.Context, tx *sql.Tx, recordID string, size int64, now time.Time) (string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT owner FROM pins
WHERE record_id=? AND (expires IS NULL OR expires > ?)
ORDER BY owner`, recordID, ts(now))
	if err != nil {
		return "", err
	}
	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			_ = rows.Close()
			return "", err
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return "", err
	}
	_ = rows.Close()
	if len(owners) == 0 {
		return "", fmt.Errorf("%w: record %s", ErrNotPinned, recordID)
	}
	for _, owner := range owners {
		if err := s.ensureQuotaTx(ctx, tx, owner); err != nil {
			return "", err
		}
		if err := s.reserveTx(ctx, tx, owner, size); err != nil {
			if errors.Is(err, ErrQuotaExceeded) {
				continue
			}
			return "", err
		}
		return owner, nil
	}
	return "", fmt.Errorf("%w: no pinner of record %s can absorb %d bytes", ErrQuotaExceeded, recordID, size)
}

// ReadIndex returns the flattened identity set with read access to a record.
func (s *Store) ReadIndex(ctx context.Context, recordID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT identity FROM acl_read WHERE record_id=? ORDER BY identity`, recordID)
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

// RecordDeps returns the dependency ids of a record for one kind.
func (s *Store) RecordDeps(ctx context.Context, recordID, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT dep_id FROM record_deps WHERE record_id=? AND kind=? ORDER BY dep_id`, recordID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}
