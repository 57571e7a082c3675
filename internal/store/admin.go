package store

import (
	"context"
	"time"

	"github.com/kk-code-lab/recordlake/internal/meta"
)

// Pin, peer, and signing-key operations are upserts scoped by (subject,
// owner), delegated to the metadata store with the store's clock.

func (s *Store) PinRecord(ctx context.Context, recordID, owner string, expires *time.Time) error {
	return s.meta.PinRecord(ctx, recordID, owner, expires, s.clock.Now())
}

func (s *Store) UnpinRecord(ctx context.Context, recordID, owner string) error {
	return s.meta.UnpinRecord(ctx, recordID, owner)
}

func (s *Store) PinBlob(ctx context.Context, blobID, owner string, expires *time.Time) error {
	return s.meta.PinBlob(ctx, blobID, owner, expires, s.clock.Now())
}

func (s *Store) UnpinBlob(ctx context.Context, blobID, owner string) error {
	return s.meta.UnpinBlob(ctx, blobID, owner)
}

func (s *Store) AddSyncPeer(ctx context.Context, recordID, owner, peer string) error {
	return s.meta.AddSyncPeer(ctx, recordID, owner, peer)
}

func (s *Store) RemoveSyncPeer(ctx context.Context, recordID, owner, peer string) error {
	return s.meta.RemoveSyncPeer(ctx, recordID, owner, peer)
}

func (s *Store) ListSyncPeers(ctx context.Context, recordID, owner string) ([]string, error) {
	return s.meta.ListSyncPeers(ctx, recordID, owner)
}

func (s *Store) SetSyncPeers(ctx context.Context, recordID, owner string, peers []string) error {
	return s.meta.SetSyncPeers(ctx, recordID, owner, peers)
}

func (s *Store) SetSigningKey(ctx context.Context, owner string, key []byte) error {
	return s.meta.SetSigningKey(ctx, owner, key, s.clock.Now())
}

func (s *Store) GetSigningKey(ctx context.Context, owner string) ([]byte, error) {
	return s.meta.GetSigningKey(ctx, owner)
}

func (s *Store) RemoveSigningKey(ctx context.Context, owner string) error {
	return s.meta.RemoveSigningKey(ctx, owner)
}

func (s *Store) Quota(ctx context.Context, owner string) (*meta.Quota, error) {
	return s.meta.GetQuota(ctx, owner)
}

func (s *Store) SetQuotaLimit(ctx context.Context, owner string, limit int64) error {
	return s.meta.SetQuotaLimit(ctx, owner, limit)
}
