package identity

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/p2pstack/corenet/internal/peerid"
)

// Secp256k1KeyPair is the secondary KeyPair implementation: a 33-byte
// compressed public key (still ≤42 bytes, so it also gets the identity
// multihash — see SPEC_FULL.md's Identity & Addressing section).
type Secp256k1KeyPair struct {
	priv *secp256k1.PrivateKey
}

// GenerateSecp256k1 creates a fresh random secp256k1 key pair.
func GenerateSecp256k1() (*Secp256k1KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Secp256k1KeyPair{priv: priv}, nil
}

func (k *Secp256k1KeyPair) PublicKeyBytes() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

func (k *Secp256k1KeyPair) Sign(msg []byte) ([]byte, error) {
	h := sha256.Sum256(msg)
	sig := ecdsa.Sign(k.priv, h[:])
	return sig.Serialize(), nil
}

func (k *Secp256k1KeyPair) Verify(sig, msg []byte) bool {
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := sha256.Sum256(msg)
	return s.Verify(h[:], k.priv.PubKey())
}

func (k *Secp256k1KeyPair) PeerID() peerid.ID {
	return peerid.FromPublicKey(k.PublicKeyBytes())
}

// VerifySecp256k1 verifies a DER signature against a raw compressed
// secp256k1 public key.
func VerifySecp256k1(pubKey, sig, msg []byte) bool {
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	h := sha256.Sum256(msg)
	return s.Verify(h[:], pub)
}
