package store

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/kk-code-lab/recordlake/internal/identity"
	"github.com/kk-code-lab/recordlake/internal/meta"
)

// KeyedResolver resolves identity documents from signing keys registered in
// the metadata store, letting an owner rotate to a key that differs from the
// one embedded in their identity.
type KeyedResolver struct {
	Meta *meta.Store
}

func (r KeyedResolver) Resolve(ctx context.Context, id string) (*identity.Document, error) {
	key, err := r.Meta.GetSigningKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("store: stored signing key for %s has %d bytes", id, len(key))
	}
	return &identity.Document{
		ID:            id,
		AssertionKeys: []ed25519.PublicKey{ed25519.PublicKey(key)},
	}, nil
}

// ChainResolver tries each resolver in order, returning the first document
// found. A resolver reporting meta.ErrNotFound or identity.ErrNotIdentity
// falls through to the next one.
type ChainResolver []identity.Resolver

func (c ChainResolver) Resolve(ctx context.Context, id string) (*identity.Document, error) {
	var last error
	for _, r := range c {
		doc, err := r.Resolve(ctx, id)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, meta.ErrNotFound) && !errors.Is(err, identity.ErrNotIdentity) {
			return nil, err
		}
		last = err
	}
	if last == nil {
		last = errors.New("store: no resolver configured")
	}
	return nil, last
}
