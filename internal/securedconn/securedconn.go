// Package securedconn defines the contract every upper layer (principally
// mplex) consumes after a SecurityUpgrader has run: local and
// remote peer identity plus opaque byte I/O.
package securedconn

import (
	"context"

	"github.com/p2pstack/corenet/internal/peerid"
)

// Conn is a secured connection: authenticated peer identities plus the
// same read/write/close byte contract as the raw transport underneath.
// An empty chunk from Read means orderly close, same as RawConnection.
type Conn interface {
	LocalPeer() peerid.ID
	RemotePeer() peerid.ID
	LocalMultiaddr() string
	RemoteMultiaddr() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, b []byte) error
	Close() error
}

// raw is the shape every SecurityUpgrader's output needs to supply I/O
// through — kept narrow so upgraders don't import the transport package
// just to satisfy this.
type raw interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, b []byte) error
	Close() error
	LocalMultiaddr() string
	RemoteMultiaddr() string
}

// passthrough implements Conn by pairing peer identities with a byte
// stream that already speaks the agreed security guarantees (plaintext,
// Noise, TLS — whichever the upgrader ran).
type passthrough struct {
	raw
	localPeer, remotePeer peerid.ID
}

// New wraps a post-handshake byte stream with the peer identities the
// upgrader authenticated.
func New(stream raw, localPeer, remotePeer peerid.ID) Conn {
	return &passthrough{raw: stream, localPeer: localPeer, remotePeer: remotePeer}
}

func (p *passthrough) LocalPeer() peerid.ID  { return p.localPeer }
func (p *passthrough) RemotePeer() peerid.ID { return p.remotePeer }
