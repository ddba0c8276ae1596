// Package peerid implements PeerID: an opaque byte identifier derived from
// hashing a public key with a multihash. Two PeerIDs compare
// equal iff their byte representations match; ordering is the lexicographic
// order of those bytes.
package peerid

import (
	"bytes"
	"crypto/sha256"

	"github.com/p2pstack/corenet/internal/base58"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/varint"
)

const (
	// multihash function codes (a narrow subset of the multiformats table —
	// only the two this repository's identity scheme ever produces).
	codeIdentity = 0x00
	codeSHA256   = 0x12

	// identityMaxKeyLen is the largest public key that gets embedded
	// verbatim (identity hash) rather than digested with SHA-256.
	identityMaxKeyLen = 42
)

// ID is an opaque peer identifier: the raw multihash bytes.
type ID struct {
	b string // string, not []byte, so ID is comparable and usable as a map key
}

// FromPublicKey derives a PeerID from a public key's canonical byte
// encoding: an identity multihash if the key is ≤42 bytes (e.g. Ed25519),
// a SHA-256 multihash otherwise.
func FromPublicKey(pubKey []byte) ID {
	if len(pubKey) <= identityMaxKeyLen {
		return ID{b: string(encodeMultihash(codeIdentity, pubKey))}
	}
	sum := sha256.Sum256(pubKey)
	return ID{b: string(encodeMultihash(codeSHA256, sum[:]))}
}

func encodeMultihash(code uint64, digest []byte) []byte {
	buf := varint.Encode(nil, code)
	buf = varint.Encode(buf, uint64(len(digest)))
	buf = append(buf, digest...)
	return buf
}

// FromBytes wraps a raw multihash byte sequence as an ID without
// validating it carries a recognized multihash code — used when the
// bytes come from a PeerID already validated elsewhere (e.g. a
// multiaddr's /p2p/ component).
func FromBytes(b []byte) ID {
	return ID{b: string(b)}
}

// Bytes returns the raw multihash bytes.
func (id ID) Bytes() []byte { return []byte(id.b) }

// String renders the base58btc text form.
func (id ID) String() string {
	return base58.Encode([]byte(id.b))
}

// Decode parses a base58btc PeerID string.
func Decode(s string) (ID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return ID{}, p2perr.Wrap(p2perr.KindMalformedMessage, "peerid: invalid base58", err)
	}
	return ID{b: string(b)}, nil
}

// Equal reports byte-for-byte equality.
func (id ID) Equal(other ID) bool { return id.b == other.b }

// IsEmpty reports whether id is the zero value.
func (id ID) IsEmpty() bool { return id.b == "" }

// Compare provides a strict total order: lexicographic ordering of the
// byte representations.
func Compare(a, b ID) int {
	return bytes.Compare([]byte(a.b), []byte(b.b))
}

// MatchesPublicKey reports whether id is exactly the PeerID FromPublicKey
// would derive from pubKey — used to verify a Message.source PeerID
// against an identity-hash-embedded public key without a side channel
func (id ID) MatchesPublicKey(pubKey []byte) bool {
	return id.Equal(FromPublicKey(pubKey))
}

// EmbeddedIdentityKey returns the public key bytes embedded in id if id is
// an identity-hash multihash (code 0x00), and ok=true. Used when a
// Message carries no explicit `key` field and the verifier must recover
// the public key from `source` itself.
func (id ID) EmbeddedIdentityKey() (key []byte, ok bool) {
	buf := []byte(id.b)
	code, n, err := varint.Decode(buf)
	if err != nil || code != codeIdentity {
		return nil, false
	}
	buf = buf[n:]
	length, n, err := varint.Decode(buf)
	if err != nil {
		return nil, false
	}
	buf = buf[n:]
	l, err := varint.ToInt(length)
	if err != nil || l != len(buf) {
		return nil, false
	}
	return buf, true
}
