package identity

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/p2pstack/corenet/internal/peerid"
)

// Ed25519KeyPair is the default KeyPair: a 32-byte public key, which
// always qualifies for the identity multihash.
type Ed25519KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateEd25519 creates a fresh random Ed25519 key pair.
func GenerateEd25519() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519KeyPair{priv: priv, pub: pub}, nil
}

// Ed25519FromSeed reconstructs a key pair from a 32-byte seed, for
// persisted identities loaded from disk.
func Ed25519FromSeed(seed []byte) *Ed25519KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

func (k *Ed25519KeyPair) PublicKeyBytes() []byte {
	return []byte(k.pub)
}

// Seed returns the 32-byte seed this key pair was generated or
// reconstructed from, for callers that persist identities to disk.
func (k *Ed25519KeyPair) Seed() []byte {
	return k.priv.Seed()
}

func (k *Ed25519KeyPair) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, msg), nil
}

func (k *Ed25519KeyPair) Verify(sig, msg []byte) bool {
	return ed25519.Verify(k.pub, msg, sig)
}

func (k *Ed25519KeyPair) PeerID() peerid.ID {
	return peerid.FromPublicKey(k.PublicKeyBytes())
}

// VerifyEd25519 verifies a signature against a raw Ed25519 public key,
// used when a Message's signer is recovered from `source`/`key` rather
// than from a live KeyPair.
func VerifyEd25519(pubKey, sig, msg []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), msg, sig)
}
