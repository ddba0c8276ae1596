// Package identity provides the crypto provider's concrete shape: a
// KeyPair abstraction with two real implementations, used by gossipsub
// message signing and Envelope sealing.
package identity

import "github.com/p2pstack/corenet/internal/peerid"

// KeyPair is an abstract signer/verifier with a derived PeerID. It also
// satisfies wireformat.Signer/Verifier so it can seal and verify signed
// Envelopes directly.
type KeyPair interface {
	PublicKeyBytes() []byte
	Sign(msg []byte) ([]byte, error)
	Verify(sig, msg []byte) bool
	PeerID() peerid.ID
}

// KeyType identifies which concrete implementation a marshaled key uses.
type KeyType int

const (
	KeyTypeEd25519 KeyType = iota
	KeyTypeSecp256k1
)
