// Package tcptransport is the plain-TCP RawConnection implementation —
// the default "Raw transport" external collaborator made
// concrete for the CLI demo and integration tests.
package tcptransport

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/p2pstack/corenet/internal/p2perr"
)

const maxReadChunk = 64 * 1024

// Conn wraps a net.Conn as a transport.RawConnection.
type Conn struct {
	nc net.Conn
}

// New wraps an already-dialed/accepted net.Conn.
func New(nc net.Conn) *Conn { return &Conn{nc: nc} }

// Dial connects to addr ("host:port") and returns a RawConnection.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindConnectionClosed, "tcptransport: dial", err)
	}
	return New(nc), nil
}

// Listener wraps a net.Listener to hand out Conns.
type Listener struct {
	ln net.Listener
}

func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return New(nc), nil
}

func (l *Listener) Close() error { return l.ln.Close() }
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetReadDeadline(dl)
	}
	buf := make([]byte, maxReadChunk)
	n, err := c.nc.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil // orderly close: empty chunk, no error
		}
		return nil, p2perr.Wrap(p2perr.KindConnectionClosed, "tcptransport: read", err)
	}
	return buf[:n], nil
}

func (c *Conn) Write(ctx context.Context, b []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	}
	_, err := c.nc.Write(b)
	if err != nil {
		return p2perr.Wrap(p2perr.KindConnectionClosed, "tcptransport: write", err)
	}
	return nil
}

func (c *Conn) Close() error { return c.nc.Close() }

func (c *Conn) LocalMultiaddr() string  { return c.nc.LocalAddr().String() }
func (c *Conn) RemoteMultiaddr() string { return c.nc.RemoteAddr().String() }
