// Package memtransport is an in-memory duplex RawConnection, used by the
// security upgrader, mplex and cmd/p2pcore protocol-tag tests without a
// real socket — the same role net.Pipe plays for callers who need addressing
// metadata too.
package memtransport

import (
	"context"
	"io"
	"sync"

	"github.com/p2pstack/corenet/internal/p2perr"
)

type endpoint struct {
	local, remote string
	in            chan []byte
	out           chan []byte

	mu     sync.Mutex
	closed bool
}

// Pipe returns two connected RawConnections; writes to one arrive as
// reads on the other.
func Pipe(localAddr, remoteAddr string) (*endpoint, *endpoint) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &endpoint{local: localAddr, remote: remoteAddr, in: ba, out: ab}
	b := &endpoint{local: remoteAddr, remote: localAddr, in: ab, out: ba}
	return a, b
}

func (e *endpoint) Read(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-e.in:
		if !ok {
			return nil, nil // orderly close: empty chunk
		}
		return b, nil
	case <-ctx.Done():
		return nil, p2perr.Wrap(p2perr.KindCancelled, "memtransport: read cancelled", ctx.Err())
	}
}

func (e *endpoint) Write(ctx context.Context, b []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return p2perr.ErrConnectionClosed
	}
	cp := append([]byte(nil), b...)
	select {
	case e.out <- cp:
		return nil
	case <-ctx.Done():
		return p2perr.Wrap(p2perr.KindCancelled, "memtransport: write cancelled", ctx.Err())
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.out)
	return nil
}

func (e *endpoint) LocalMultiaddr() string  { return e.local }
func (e *endpoint) RemoteMultiaddr() string { return e.remote }

var _ io.Closer = (*endpoint)(nil)
