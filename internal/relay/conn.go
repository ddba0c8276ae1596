package relay

import (
	"context"
	"sync"
	"time"

	"github.com/p2pstack/corenet/internal/p2perr"
)

// RelayedConnection wraps a single Hop/Stop stream as the byte-relay for
// one circuit, enforcing the negotiated data and duration limits. It
// satisfies the same read/write/close shape every other byte-stream
// collaborator in this repository does.
type RelayedConnection struct {
	stream Stream
	local  string
	remote string

	dataLimit uint64 // 0 = unlimited
	deadline  time.Time

	mu        sync.Mutex
	usedBytes uint64
	closeOnce sync.Once
}

func newRelayedConnection(s Stream, local, remote string, limit *ActiveReservationLimit) *RelayedConnection {
	c := &RelayedConnection{stream: s, local: local, remote: remote}
	if limit != nil {
		c.dataLimit = limit.Data
		if limit.Duration > 0 {
			c.deadline = time.Now().Add(limit.Duration)
		}
	}
	return c
}

// ActiveReservationLimit is the per-circuit resource cap negotiated at
// connect time (data bytes, wall-clock duration).
type ActiveReservationLimit struct {
	Data     uint64
	Duration time.Duration
}

// maxAccountingChunk bounds how much of a Write the data-limit check sees
// in one accountChunk call, so a single oversized caller write can't
// overshoot a small data limit by more than one chunk.
const maxAccountingChunk = 8 << 10

// accountChunk tracks a just-transferred chunk in 8 KiB granularity
// buckets and fails once the cumulative total exceeds the data limit, or
// the duration deadline has passed — per the relay's limit-enforcement
// design, this can overshoot a small limit by up to one chunk rather
// than being exact to the byte.
func (c *RelayedConnection) accountChunk(n int) error {
	if !c.deadline.IsZero() && time.Now().After(c.deadline) {
		return p2perr.New(p2perr.KindResourceLimitExceeded, "relay: circuit duration limit exceeded")
	}
	if c.dataLimit == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usedBytes += uint64(n)
	if c.usedBytes > c.dataLimit {
		return p2perr.New(p2perr.KindResourceLimitExceeded, "relay: circuit data limit exceeded")
	}
	return nil
}

func (c *RelayedConnection) Read(ctx context.Context) ([]byte, error) {
	data, err := c.stream.Read(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.accountChunk(len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *RelayedConnection) Write(ctx context.Context, b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > maxAccountingChunk {
			n = maxAccountingChunk
		}
		if err := c.stream.Write(ctx, b[:n]); err != nil {
			return err
		}
		if err := c.accountChunk(n); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Close satisfies transport.RawConnection; the underlying stream close
// is idempotent and safe to call more than once (mirrored here with
// closeOnce since this wrapper may be closed both by its owner and by
// the listener's drop-oldest path).
func (c *RelayedConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.stream.Close(context.Background())
	})
	return err
}

func (c *RelayedConnection) LocalMultiaddr() string  { return c.local }
func (c *RelayedConnection) RemoteMultiaddr() string { return c.remote }
