package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddSyncPeer registers a peer address for a record and owner.
func (s *Store) AddSyncPeer(ctx context.Context, recordID, owner, peer string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO sync_peers(record_id, owner, peer) VALUES(?, ?, ?)`,
		recordID, owner, peer)
	return err
}

// RemoveSyncPeer forgets one peer address for a record and owner.
func (s *Store) RemoveSyncPeer(ctx context.Context, recordID, owner, peer string) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM sync_peers WHERE record_id=? AND owner=? AND peer=?`,
		recordID, owner, peer)
	return err
}

// ListSyncPeers returns the peer addresses of a record for one owner.
func (s *Store) ListSyncPeers(ctx context.Context, recordID, owner string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT peer FROM sync_peers WHERE record_id=? AND owner=? ORDER BY peer`,
		recordID, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, err
		}
		out = append(out, peer)
	}
	return out, rows.Err()
}

// SetSyncPeers replaces the peer set of a record for one owner.
func (s *Store) SetSyncPeers(ctx context.Context, recordID, owner string, peers []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `
DELETE FROM sync_peers WHERE record_id=? AND owner=?`, recordID, owner); err != nil {
		return err
	}
	for _, peer := range peers {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO sync_peers(record_id, owner, peer) VALUES(?, ?, ?)`,
			recordID, owner, peer); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetSigningKey stores or replaces an owner's signing key.
func (s *Store) SetSigningKey(ctx context.Context, owner string, key []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO signing_keys(owner, key, created) VALUES(?, ?, ?)
ON CONFLICT(owner) DO UPDATE SET key=excluded.key, created=excluded.created`,
		owner, key, ts(now))
	return err
}

// GetSigningKey returns an owner's signing key, or ErrNotFound.
func (s *Store) GetSigningKey(ctx context.Context, owner string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx, `
SELECT key FROM signing_keys WHERE owner=?`, owner).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: signing key for %s", ErrNotFound, owner)
		}
		return nil, err
	}
	return key, nil
}

// RemoveSigningKey forgets an owner's signing key.
func (s *Store) RemoveSigningKey(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM signing_keys WHERE owner=?", owner)
	return err
}
