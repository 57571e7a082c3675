// Package identity implements decentralized identities for envelope authors.
// An identity is a self-certifying DID whose method-specific part encodes an
// ed25519 public key, so a resolver can derive the identity document without
// any registry.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Prefix is the DID method prefix for record store identities.
const Prefix = "did:rl:"

var (
	ErrNotIdentity = errors.New("identity: not a did:rl identifier")
	ErrBadKey      = errors.New("identity: malformed key material")
)

// FromPublicKey derives the identity string for an ed25519 public key.
func FromPublicKey(pub ed25519.PublicKey) string {
	return Prefix + hex.EncodeToString(pub)
}

// PublicKey extracts the ed25519 public key encoded in an identity string.
func PublicKey(id string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(id, Prefix) {
		return nil, ErrNotIdentity
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(id, Prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrBadKey
	}
	return ed25519.PublicKey(raw), nil
}

// Generate creates a fresh identity and its private key.
func Generate() (string, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	return FromPublicKey(pub), priv, nil
}

// Document is a resolved identity document: the assertion-method keys an
// author may sign with.
type Document struct {
	ID            string
	AssertionKeys []ed25519.PublicKey
}

// Verify reports whether any assertion key of the document verifies the
// signature over the exact payload bytes.
func (d *Document) Verify(payload, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	for _, key := range d.AssertionKeys {
		if ed25519.Verify(key, payload, sig) {
			return true
		}
	}
	return false
}

// Resolver resolves an identity to its document. Resolution may be
// network-bound, so implementations must honor context cancellation.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Document, error)
}

// KeyResolver resolves did:rl identities locally by decoding the key embedded
// in the identifier itself.
type KeyResolver struct{}

func (KeyResolver) Resolve(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pub, err := PublicKey(id)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, AssertionKeys: []ed25519.PublicKey{pub}}, nil
}
