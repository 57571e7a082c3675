// Package store is the per-user record and blob store: content-addressed
// record CRUD, signed envelope ingestion, quota-guarded writes, and
// pin/peer/signing-key management over the metadata database and the
// sharded file layout.
package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/kk-code-lab/recordlake/internal/clock"
	"github.com/kk-code-lab/recordlake/internal/identity"
	"github.com/kk-code-lab/recordlake/internal/meta"
	"github.com/kk-code-lab/recordlake/internal/storage/fs"
)

const (
	DefaultQuota       int64 = 1 << 30
	DefaultMaxBlobSize int64 = 16 << 20

	defaultResolveTimeout = 10 * time.Second
)

// Options configures a store. Zero values select the defaults.
type Options struct {
	DataDir        string
	DefaultQuota   int64
	MaxBlobSize    int64
	ResolveTimeout time.Duration
	Resolver       identity.Resolver
	Clock          clock.Clock
}

// Store is the shared storage backend. Safe for concurrent use; every
// mutation runs in exactly one metadata transaction, and file writes happen
// outside transactions with compensating cleanup.
type Store struct {
	meta           *meta.Store
	layout         fs.Layout
	resolver       identity.Resolver
	resolveTimeout time.Duration
	clock          clock.Clock
	hlc            *clock.HLC
	maxBlobSize    int64
}

// Open prepares the data directory, opens the metadata database, and returns
// a ready store.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("store: data dir required")
	}
	if opts.DefaultQuota <= 0 {
		opts.DefaultQuota = DefaultQuota
	}
	if opts.MaxBlobSize <= 0 {
		opts.MaxBlobSize = DefaultMaxBlobSize
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = defaultResolveTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}

	layout := fs.NewLayout(opts.DataDir)
	for _, dir := range []string{layout.Root, layout.RecordsDir, layout.BlobsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: prepare %s: %w", dir, err)
		}
	}
	db, err := meta.Open(layout.MetaPath(), opts.DefaultQuota)
	if err != nil {
		return nil, fmt.Errorf("store: open metadata: %w", err)
	}
	s := &Store{
		meta:           db,
		layout:         layout,
		resolver:       opts.Resolver,
		resolveTimeout: opts.ResolveTimeout,
		clock:          opts.Clock,
		hlc:            clock.NewHLC(),
		maxBlobSize:    opts.MaxBlobSize,
	}
	// keep fresh stamps ahead of everything already in the log, even when
	// the wall clock stepped backwards since the last run
	stamp, err := db.MaxStoreOrder(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: read newest stamp: %w", err)
	}
	if stamp != "" {
		s.hlc.Update(stamp)
	}
	if s.resolver == nil {
		s.resolver = ChainResolver{KeyedResolver{Meta: db}, identity.KeyResolver{}}
	}
	return s, nil
}

// Close flushes and closes the metadata database.
func (s *Store) Close() error {
	return s.meta.Close()
}

// Meta exposes the metadata store to the GC sweeper and the ops tooling.
func (s *Store) Meta() *meta.Store { return s.meta }

// Layout exposes the file layout to the GC sweeper and the ops tooling.
func (s *Store) Layout() fs.Layout { return s.layout }

// RecordID derives the content address of a record from its genesis
// identity: the creator and the creation nonce.
func RecordID(creator, nonce string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(creator))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(nonce))
	return hex.EncodeToString(h.Sum(nil))
}

// NewNonce returns a fresh creation nonce for a record.
func NewNonce() string {
	return uuid.NewString()
}

// BlobID is the content address of blob bytes.
func BlobID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
