// Package security defines the SecurityUpgrader contract
// and a shared length-prefixed message framer used by both concrete
// upgraders during their handshake phase, before the connection becomes a
// securedconn.Conn.
package security

import (
	"context"

	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/securedconn"
	"github.com/p2pstack/corenet/internal/transport"
	"github.com/p2pstack/corenet/internal/varint"
)

// Upgrader turns a RawConnection into a securedconn.Conn, authenticating
// local and remote peer identities to whatever cryptographic guarantee
// the concrete scheme provides.
type Upgrader interface {
	SecureOutbound(ctx context.Context, raw transport.RawConnection, local identity.KeyPair, expectedRemote peerid.ID) (securedconn.Conn, error)
	SecureInbound(ctx context.Context, raw transport.RawConnection, local identity.KeyPair) (securedconn.Conn, error)
}

// Framer reads/writes varint-length-prefixed messages over a
// RawConnection, accumulating across chunk boundaries since Read may
// return partial or coalesced chunks. Both concrete upgraders use it for their
// handshake phase, before the connection becomes a securedconn.Conn.
type Framer struct {
	raw transport.RawConnection
	buf []byte
}

// NewFramer wraps raw for length-prefixed handshake message exchange.
func NewFramer(raw transport.RawConnection) *Framer {
	return &Framer{raw: raw}
}

func (f *Framer) WriteMessage(ctx context.Context, msg []byte) error {
	out := varint.Encode(nil, uint64(len(msg)))
	out = append(out, msg...)
	return f.raw.Write(ctx, out)
}

func (f *Framer) ReadMessage(ctx context.Context, maxSize int) ([]byte, error) {
	for {
		if n, consumed, ok := tryDecodeLength(f.buf); ok {
			need := consumed + n
			if maxSize > 0 && n > maxSize {
				return nil, p2perr.New(p2perr.KindMessageTooLarge, "security: handshake message too large")
			}
			if len(f.buf) >= need {
				msg := append([]byte(nil), f.buf[consumed:need]...)
				f.buf = f.buf[need:]
				return msg, nil
			}
		}
		chunk, err := f.raw.Read(ctx)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, p2perr.ErrConnectionClosed
		}
		f.buf = append(f.buf, chunk...)
	}
}

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
