// Package noisesecurity implements the Noise_XX handshake as the stronger
// of the two SecurityUpgrader options: an ephemeral X25519
// Diffie-Hellman exchange establishes a shared secret, and each side's
// long-term identity key is bound to that secret via a signed Envelope
// carried as early handshake payload, using flynn/noise's Noise_XX
// pattern directly.
package noisesecurity

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"

	"github.com/flynn/noise"

	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/securedconn"
	"github.com/p2pstack/corenet/internal/security"
	"github.com/p2pstack/corenet/internal/transport"
	"github.com/p2pstack/corenet/internal/varint"
	"github.com/p2pstack/corenet/internal/wireformat"
)

// domain is the per-record-type signing domain binding a noise static
// public key to a host's long-term identity key.
const domain = "noise-libp2p-static-key:"

const payloadType = "noise-identity"

const maxHandshakeMessage = 4096

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Upgrader implements security.Upgrader with Noise_XX.
type Upgrader struct{}

func New() *Upgrader { return &Upgrader{} }

func (u *Upgrader) SecureOutbound(ctx context.Context, raw transport.RawConnection, local identity.KeyPair, expectedRemote peerid.ID) (securedconn.Conn, error) {
	return u.handshake(ctx, raw, local, true, expectedRemote)
}

func (u *Upgrader) SecureInbound(ctx context.Context, raw transport.RawConnection, local identity.KeyPair) (securedconn.Conn, error) {
	return u.handshake(ctx, raw, local, false, peerid.ID{})
}

func (u *Upgrader) handshake(ctx context.Context, raw transport.RawConnection, local identity.KeyPair, initiator bool, expectedRemote peerid.ID) (securedconn.Conn, error) {
	staticKeypair, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindInternal, "noisesecurity: generate static keypair", err)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindInternal, "noisesecurity: init handshake state", err)
	}

	localEnv, err := wireformat.Seal(signerAdapter{local}, domain, []byte(payloadType), staticKeypair.Public)
	if err != nil {
		return nil, err
	}
	localPayload := localEnv.Marshal()

	f := security.NewFramer(raw)

	var remotePayload []byte
	var send, recv *noise.CipherState

	if initiator {
		msg1, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindInternal, "noisesecurity: write msg1", err)
		}
		if err := f.WriteMessage(ctx, msg1); err != nil {
			return nil, err
		}

		msg2, err := f.ReadMessage(ctx, maxHandshakeMessage)
		if err != nil {
			return nil, err
		}
		payload2, _, _, err := hs.ReadMessage(nil, msg2)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindInvalidSignature, "noisesecurity: read msg2", err)
		}
		remotePayload = payload2

		msg3, cs1, cs2, err := hs.WriteMessage(nil, localPayload)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindInternal, "noisesecurity: write msg3", err)
		}
		if err := f.WriteMessage(ctx, msg3); err != nil {
			return nil, err
		}
		send, recv = cs1, cs2 // cs1 is init->resp, cs2 is resp->init
	} else {
		msg1, err := f.ReadMessage(ctx, maxHandshakeMessage)
		if err != nil {
			return nil, err
		}
		if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
			return nil, p2perr.Wrap(p2perr.KindMalformedMessage, "noisesecurity: read msg1", err)
		}

		msg2, _, _, err := hs.WriteMessage(nil, localPayload)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindInternal, "noisesecurity: write msg2", err)
		}
		if err := f.WriteMessage(ctx, msg2); err != nil {
			return nil, err
		}

		msg3, err := f.ReadMessage(ctx, maxHandshakeMessage)
		if err != nil {
			return nil, err
		}
		payload3, cs1, cs2, err := hs.ReadMessage(nil, msg3)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindInvalidSignature, "noisesecurity: read msg3", err)
		}
		remotePayload = payload3
		send, recv = cs2, cs1 // responder sends resp->init, receives init->resp
	}

	remoteEnv, err := wireformat.UnmarshalEnvelope(remotePayload)
	if err != nil {
		return nil, err
	}
	remoteID := peerid.FromPublicKey(remoteEnv.PublicKey)
	if !remoteEnv.VerifyDomain(verifierAdapter{remoteEnv.PublicKey}, domain) {
		return nil, p2perr.ErrInvalidSignature
	}
	// Bind the signed identity to the exact static key this session's DH
	// exchange used, so a captured Envelope can't be replayed into a
	// different Noise session.
	if !bytes.Equal(remoteEnv.Payload, hs.PeerStatic()) {
		return nil, p2perr.New(p2perr.KindInvalidSignature, "noisesecurity: signed static key does not match handshake")
	}
	if !expectedRemote.IsEmpty() && !expectedRemote.Equal(remoteID) {
		return nil, p2perr.ErrPeerIDMismatch
	}

	tc := newTransportConn(raw, send, recv)
	return securedconn.New(tc, local.PeerID(), remoteID), nil
}

type signerAdapter struct{ kp identity.KeyPair }

func (s signerAdapter) Sign(msg []byte) ([]byte, error) { return s.kp.Sign(msg) }
func (s signerAdapter) PublicKeyBytes() []byte          { return s.kp.PublicKeyBytes() }

type verifierAdapter struct{ pubKey []byte }

func (v verifierAdapter) Verify(sig, msg []byte) bool {
	return identity.VerifyEd25519(v.pubKey, sig, msg) || identity.VerifySecp256k1(v.pubKey, sig, msg)
}

// transportConn wraps the raw post-handshake stream with per-direction
// Noise transport cipher states, framing each encrypted record with a
// varint length prefix since the underlying chunks may split or coalesce
// arbitrarily.
type transportConn struct {
	raw  transport.RawConnection
	send *noise.CipherState
	recv *noise.CipherState

	muSend sync.Mutex
	muRecv sync.Mutex

	buf []byte
}

func newTransportConn(raw transport.RawConnection, send, recv *noise.CipherState) *transportConn {
	return &transportConn{raw: raw, send: send, recv: recv}
}

func (c *transportConn) Write(ctx context.Context, b []byte) error {
	c.muSend.Lock()
	ct := c.send.Encrypt(nil, nil, b)
	c.muSend.Unlock()

	framed := varint.Encode(nil, uint64(len(ct)))
	framed = append(framed, ct...)
	return c.raw.Write(ctx, framed)
}

func (c *transportConn) Read(ctx context.Context) ([]byte, error) {
	for {
		if n, consumed, ok := tryDecodeLength(c.buf); ok {
			need := consumed + n
			if len(c.buf) >= need {
				ct := append([]byte(nil), c.buf[consumed:need]...)
				c.buf = c.buf[need:]

				c.muRecv.Lock()
				pt, err := c.recv.Decrypt(nil, nil, ct)
				c.muRecv.Unlock()
				if err != nil {
					return nil, p2perr.Wrap(p2perr.KindInvalidSignature, "noisesecurity: decrypt", err)
				}
				return pt, nil
			}
		}
		chunk, err := c.raw.Read(ctx)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, nil // orderly close: empty chunk
		}
		c.buf = append(c.buf, chunk...)
	}
}

func (c *transportConn) Close() error { return c.raw.Close() }

func (c *transportConn) LocalMultiaddr() string  { return c.raw.LocalMultiaddr() }
func (c *transportConn) RemoteMultiaddr() string { return c.raw.RemoteMultiaddr() }

func tryDecodeLength(buf []byte) (n int, consumed int, ok bool) {
	v, c, err := varint.Decode(buf)
	if err != nil {
		return 0, 0, false
	}
	l, err := varint.ToInt(v)
	if err != nil {
		return 0, 0, false
	}
	return l, c, true
}
