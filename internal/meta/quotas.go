package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Quota is a per-owner byte budget.
type Quota struct {
	Owner     string
	BytesUsed int64
	Limit     int64
}

// GetQuota returns the quota row for an owner, or ErrNotFound.
func (s *Store) GetQuota(ctx context.Context, owner string) (*Quota, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT owner, bytes_used, quota_limit FROM quotas WHERE owner=?`, owner)
	var q Quota
	if err := row.Scan(&q.Owner, &q.BytesUsed, &q.Limit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: quota %s", ErrNotFound, owner)
		}
		return nil, err
	}
	return &q, nil
}

// SetQuotaLimit creates or updates an owner's byte limit.
func (s *Store) SetQuotaLimit(ctx context.Context, owner string, limit int64) error {
	if limit <= 0 {
		return errors.New("meta: quota limit must be positive")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO quotas(owner, bytes_used, quota_limit) VALUES(?, 0, ?)
ON CONFLICT(owner) DO UPDATE SET quota_limit=excluded.quota_limit`, owner, limit)
	return err
}

// ensureQuotaTx makes sure a quota row exists for the owner.
func (s *Store) ensureQuotaTx(ctx context.Context, tx *sql.Tx, owner string) error {
	_, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO quotas(owner, bytes_used, quota_limit) VALUES(?, 0, ?)`,
		owner, s.defaultQuota)
	return err
}

// reserveTx charges n bytes to an owner, failing with ErrQuotaExceeded when
// the limit would be crossed. The check and the update are one statement, so
// the reservation is atomic with whatever else the transaction does.
func (s *Store) reserveTx(ctx context.Context, tx *sql.Tx, owner string, n int64) error {
	if n <= 0 {
		return nil
	}
	res, err := tx.ExecContext(ctx, `
UPDATE quotas SET bytes_used=bytes_used+?
WHERE owner=? AND bytes_used+?<=quota_limit`, n, owner, n)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: owner %s needs %d bytes", ErrQuotaExceeded, owner, n)
	}
	return nil
}

// releaseTx returns n bytes to an owner. bytes_used never goes negative.
func (s *Store) releaseTx(ctx context.Context, tx *sql.Tx, owner string, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
UPDATE quotas SET bytes_used=MAX(bytes_used-?, 0) WHERE owner=?`, n, owner)
	return err
}
