// Package plaintextsecurity implements the Plaintext handshake: both
// sides exchange a signed Envelope carrying their public key over the
// lightweight, length-delimited-only protobuf codec, then the byte
// stream continues unencrypted. It exists to exercise the
// SecurityUpgrader contract end-to-end in tests without real crypto.
package plaintextsecurity

import (
	"context"

	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/securedconn"
	"github.com/p2pstack/corenet/internal/security"
	"github.com/p2pstack/corenet/internal/transport"
	"github.com/p2pstack/corenet/internal/wireformat"
)

// domain is the per-record-type signing domain for the Plaintext exchange
// envelope.
const domain = "libp2p-plaintext-handshake:"

const payloadType = "id"

const maxHandshakeMessage = 4096

// Upgrader implements security.Upgrader with the Plaintext handshake.
type Upgrader struct{}

func New() *Upgrader { return &Upgrader{} }

func (u *Upgrader) SecureOutbound(ctx context.Context, raw transport.RawConnection, local identity.KeyPair, expectedRemote peerid.ID) (securedconn.Conn, error) {
	remote, err := u.handshake(ctx, raw, local)
	if err != nil {
		return nil, err
	}
	if !expectedRemote.IsEmpty() && !expectedRemote.Equal(remote) {
		return nil, p2perr.ErrPeerIDMismatch
	}
	return securedconn.New(raw, local.PeerID(), remote), nil
}

func (u *Upgrader) SecureInbound(ctx context.Context, raw transport.RawConnection, local identity.KeyPair) (securedconn.Conn, error) {
	remote, err := u.handshake(ctx, raw, local)
	if err != nil {
		return nil, err
	}
	return securedconn.New(raw, local.PeerID(), remote), nil
}

// handshake writes our signed envelope and reads the peer's, verifying
// the signature and that the embedded public key derives the peer id the
// envelope implicitly claims (the envelope payload carries it).
func (u *Upgrader) handshake(ctx context.Context, raw transport.RawConnection, local identity.KeyPair) (peerid.ID, error) {
	f := security.NewFramer(raw)

	localID := local.PeerID()
	env, err := wireformat.Seal(signerAdapter{local}, domain, []byte(payloadType), localID.Bytes())
	if err != nil {
		return peerid.ID{}, err
	}
	if err := f.WriteMessage(ctx, env.Marshal()); err != nil {
		return peerid.ID{}, err
	}

	msg, err := f.ReadMessage(ctx, maxHandshakeMessage)
	if err != nil {
		return peerid.ID{}, err
	}
	peerEnv, err := wireformat.UnmarshalEnvelope(msg)
	if err != nil {
		return peerid.ID{}, err
	}

	remoteID := peerid.FromPublicKey(peerEnv.PublicKey)
	if string(peerEnv.Payload) != string(remoteID.Bytes()) {
		return peerid.ID{}, p2perr.New(p2perr.KindPeerIDMismatch, "plaintext: payload does not match derived peer id")
	}
	if !peerEnv.VerifyDomain(verifierAdapter{peerEnv.PublicKey}, domain) {
		return peerid.ID{}, p2perr.ErrInvalidSignature
	}
	return remoteID, nil
}

type signerAdapter struct{ kp identity.KeyPair }

func (s signerAdapter) Sign(msg []byte) ([]byte, error) { return s.kp.Sign(msg) }
func (s signerAdapter) PublicKeyBytes() []byte          { return s.kp.PublicKeyBytes() }

type verifierAdapter struct{ pubKey []byte }

func (v verifierAdapter) Verify(sig, msg []byte) bool {
	return identity.VerifyEd25519(v.pubKey, sig, msg) || identity.VerifySecp256k1(v.pubKey, sig, msg)
}
