package meta

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Stable storage outcomes callers branch on.
var (
	ErrNotFound      = errors.New("meta: not found")
	ErrRecordExists  = errors.New("meta: record exists")
	ErrQuotaExceeded = errors.New("meta: quota exceeded")
	ErrNotPinned     = errors.New("meta: no active pin")
	ErrStaleVersion  = errors.New("meta: record version changed since replay")
	ErrNotUploaded   = errors.New("meta: blob not uploaded by owner")
)

// Store wraps the SQLite metadata database.
type Store struct {
	db           *sql.DB
	defaultQuota int64
}

// Open opens or creates the metadata database at the given path. New quota
// rows start with defaultQuota as their byte limit.
func Open(path string, defaultQuota int64) (*Store, error) {
	if path == "" {
		return nil, errors.New("meta: db path required")
	}
	if defaultQuota <= 0 {
		return nil, errors.New("meta: default quota must be positive")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, defaultQuota: defaultQuota}
	if err := store.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Flush forces a WAL checkpoint to durably persist changes.
func (s *Store) Flush() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) applyPragmas(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
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
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		if err = applyV1(ctx, tx); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(1, ?)", ts(time.Now())); err != nil {
			return err
		}
	}
	if version < 2 {
		if err = applyV2(ctx, tx); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(2, ?)", ts(time.Now())); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func applyV1(ctx context.Context, tx *sql.Tx) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS records (
			record_id TEXT PRIMARY KEY,
			creator TEXT NOT NULL,
			nonce TEXT NOT NULL,
			created TEXT NOT NULL,
			owner TEXT NOT NULL,
			version BLOB NOT NULL,
			size INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS envelopes (
			record_id TEXT NOT NULL,
			store_order TEXT NOT NULL,
			author TEXT NOT NULL,
			from_version BLOB NOT NULL,
			to_version BLOB NOT NULL,
			raw BLOB NOT NULL,
			size INTEGER NOT NULL,
			quota_owner TEXT NOT NULL,
			PRIMARY KEY(record_id, store_order)
		)`,
		`CREATE TABLE IF NOT EXISTS record_deps (
			record_id TEXT NOT NULL,
			dep_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY(record_id, dep_id, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS record_deps_dep_idx ON record_deps(dep_id, kind)`,
		`CREATE TABLE IF NOT EXISTS acl_read (
			record_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			PRIMARY KEY(record_id, identity)
		)`,
		`CREATE TABLE IF NOT EXISTS blobs (
			blob_id TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			created TEXT NOT NULL,
			refs INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_blobs (
			blob_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			refs INTEGER NOT NULL,
			uploads INTEGER NOT NULL,
			PRIMARY KEY(blob_id, owner)
		)`,
		`CREATE TABLE IF NOT EXISTS record_blobs (
			record_id TEXT NOT NULL,
			blob_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			PRIMARY KEY(record_id, blob_id, owner)
		)`,
		`CREATE TABLE IF NOT EXISTS quotas (
			owner TEXT PRIMARY KEY,
			bytes_used INTEGER NOT NULL,
			quota_limit INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pins (
			record_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			created TEXT NOT NULL,
			expires TEXT,
			PRIMARY KEY(record_id, owner)
		)`,
		`CREATE TABLE IF NOT EXISTS blob_pins (
			blob_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			created TEXT NOT NULL,
			expires TEXT,
			PRIMARY KEY(blob_id, owner)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func applyV2(ctx context.Context, tx *sql.Tx) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_peers (
			record_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			peer TEXT NOT NULL,
			PRIMARY KEY(record_id, owner, peer)
		)`,
		`CREATE TABLE IF NOT EXISTS signing_keys (
			owner TEXT PRIMARY KEY,
			key BLOB NOT NULL,
			created TEXT NOT NULL
		)`,
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// blob coalesces nil to an empty slice so NOT NULL columns accept it.
func blob(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
