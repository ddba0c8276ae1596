package mplex

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/securedconn"
)

var log = logging.Logger("mplex")

// Config tunes the connection's frame and buffering limits.
type Config struct {
	MaxFrameSize          int
	MaxBufferedPerStream  int
	AcceptQueueCap        int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:         DefaultMaxFrameSize,
		MaxBufferedPerStream: DefaultMaxBufferedPerStream,
		AcceptQueueCap:       128,
	}
}

// streamKey disambiguates streams because both sides allocate ids from 0
// independently with no parity rule: the same numeric id can
// simultaneously name a locally opened stream and a remote-opened one.
type streamKey struct {
	id        uint64
	initiator bool // true iff the LOCAL side opened this stream
}

// MplexConnection owns one secured connection, a monotonically increasing
// local stream-id counter, the registry of live streams, and a single
// background reader task.
type MplexConnection struct {
	secured securedconn.Conn
	cfg     Config

	mu      sync.Mutex
	streams map[streamKey]*MplexStream
	nextID  uint64
	closed  bool

	writeMu sync.Mutex

	acceptMu     sync.Mutex
	acceptQueue  []*MplexStream
	acceptWaiter chan *MplexStream
	acceptErr    error

	cancel     context.CancelFunc
	readerDone chan struct{}
}

// New wraps a secured connection as an mplex multiplexer and starts its
// reader task. Both sides allocate stream ids from 0; the connection does
// not record which side initiated it.
func New(secured securedconn.Conn, cfg Config) *MplexConnection {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.MaxBufferedPerStream <= 0 {
		cfg.MaxBufferedPerStream = DefaultMaxBufferedPerStream
	}
	if cfg.AcceptQueueCap <= 0 {
		cfg.AcceptQueueCap = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &MplexConnection{
		secured:    secured,
		cfg:        cfg,
		streams:    make(map[streamKey]*MplexStream),
		cancel:     cancel,
		readerDone: make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

// writeFrame serializes one frame onto the underlying secured connection.
// All stream writes funnel through here so concurrent streams never
// interleave their bytes on the wire.
func (c *MplexConnection) writeFrame(ctx context.Context, id uint64, flag Flag, payload []byte) error {
	buf := EncodeFrame(nil, id, flag, payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.secured.Write(ctx, buf)
}

// NewStream allocates the next local stream id, registers it, and sends
// NewStream. Allocation and registration happen in one critical section;
// the frame send happens outside it.
func (c *MplexConnection) NewStream(ctx context.Context) (*MplexStream, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, p2perr.ErrConnectionClosed
	}
	id := c.nextID
	c.nextID++
	stream := newMplexStream(c, id, true)
	c.streams[streamKey{id: id, initiator: true}] = stream
	c.mu.Unlock()

	if err := c.writeFrame(ctx, id, FlagNewStream, nil); err != nil {
		c.mu.Lock()
		delete(c.streams, streamKey{id: id, initiator: true})
		c.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

// AcceptStream returns the oldest queued inbound stream, or blocks for
// one to arrive. Only one accepter is served per stream, mirroring the
// relay listener's registry pattern.
func (c *MplexConnection) AcceptStream(ctx context.Context) (*MplexStream, error) {
	c.acceptMu.Lock()
	if c.acceptErr != nil {
		err := c.acceptErr
		c.acceptMu.Unlock()
		return nil, err
	}
	if len(c.acceptQueue) > 0 {
		s := c.acceptQueue[0]
		c.acceptQueue = c.acceptQueue[1:]
		c.acceptMu.Unlock()
		return s, nil
	}
	waiter := make(chan *MplexStream, 1)
	c.acceptWaiter = waiter
	c.acceptMu.Unlock()

	select {
	case s, ok := <-waiter:
		if !ok {
			c.acceptMu.Lock()
			err := c.acceptErr
			c.acceptMu.Unlock()
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		c.acceptMu.Lock()
		if c.acceptWaiter == waiter {
			c.acceptWaiter = nil
		}
		c.acceptMu.Unlock()
		return nil, p2perr.Wrap(p2perr.KindCancelled, "mplex: accept cancelled", ctx.Err())
	}
}

// enqueueAccept hands an inbound stream directly to a waiting accepter,
// or appends it to the bounded queue, dropping (and resetting) the
// oldest queued stream if already at capacity.
func (c *MplexConnection) enqueueAccept(s *MplexStream) {
	c.acceptMu.Lock()
	if c.acceptWaiter != nil {
		waiter := c.acceptWaiter
		c.acceptWaiter = nil
		c.acceptMu.Unlock()
		waiter <- s
		return
	}
	var dropped *MplexStream
	if len(c.acceptQueue) >= c.cfg.AcceptQueueCap {
		dropped = c.acceptQueue[0]
		c.acceptQueue = c.acceptQueue[1:]
	}
	c.acceptQueue = append(c.acceptQueue, s)
	c.acceptMu.Unlock()

	if dropped != nil {
		log.Warnf("mplex: accept queue full, dropping oldest inbound stream %d", dropped.ID())
		dropped.forceTerminal(p2perr.ErrMaxStreamsExceeded)
	}
}

func (c *MplexConnection) forgetStream(s *MplexStream) {
	c.mu.Lock()
	delete(c.streams, streamKey{id: s.id, initiator: s.initiator})
	c.mu.Unlock()
}

// lookupLocallyInitiated reports whether an inbound frame's flag refers
// to a stream the LOCAL side opened.
func lookupLocallyInitiated(flag Flag) bool {
	switch flag {
	case FlagMessageReceiver, FlagCloseReceiver, FlagResetReceiver:
		return true
	default:
		return false
	}
}

func (c *MplexConnection) dispatch(frame Frame) {
	switch frame.Flag {
	case FlagNewStream:
		c.mu.Lock()
		key := streamKey{id: frame.StreamID, initiator: false}
		if _, exists := c.streams[key]; exists {
			c.mu.Unlock()
			log.Warnf("mplex: duplicate inbound stream id %d, resetting", frame.StreamID)
			_ = c.writeFrame(context.Background(), frame.StreamID, FlagResetReceiver, nil)
			return
		}
		stream := newMplexStream(c, frame.StreamID, false)
		c.streams[key] = stream
		c.mu.Unlock()
		c.enqueueAccept(stream)

	case FlagMessageInitiator, FlagMessageReceiver:
		c.mu.Lock()
		key := streamKey{id: frame.StreamID, initiator: lookupLocallyInitiated(frame.Flag)}
		s := c.streams[key]
		c.mu.Unlock()
		if s != nil {
			s.pushData(frame.Payload, c.cfg.MaxBufferedPerStream)
		}

	case FlagCloseInitiator, FlagCloseReceiver:
		c.mu.Lock()
		key := streamKey{id: frame.StreamID, initiator: lookupLocallyInitiated(frame.Flag)}
		s := c.streams[key]
		c.mu.Unlock()
		if s != nil {
			s.markRemoteClosed()
		}

	case FlagResetInitiator, FlagResetReceiver:
		c.mu.Lock()
		key := streamKey{id: frame.StreamID, initiator: lookupLocallyInitiated(frame.Flag)}
		s := c.streams[key]
		delete(c.streams, key)
		c.mu.Unlock()
		if s != nil {
			s.markReset()
		}

	default:
		c.teardown(p2perr.New(p2perr.KindInvalidWireType, "mplex: unknown frame flag"))
	}
}

// readLoop is the single background task decoding frames off the
// secured connection and dispatching them.
func (c *MplexConnection) readLoop(ctx context.Context) {
	defer close(c.readerDone)
	var buf []byte
	for {
		chunk, err := c.secured.Read(ctx)
		if err != nil {
			c.teardown(err)
			return
		}
		if len(chunk) == 0 {
			c.teardown(p2perr.ErrConnectionClosed)
			return
		}
		buf = append(buf, chunk...)
		for {
			frame, n, ok, err := DecodeFrame(buf, c.cfg.MaxFrameSize)
			if err != nil {
				log.Warnf("mplex: framing error, tearing down connection: %v", err)
				c.teardown(err)
				return
			}
			if !ok {
				break
			}
			buf = buf[n:]
			c.dispatch(frame)
		}
	}
}

// teardown tears the connection down exactly once: every stream and the
// accept waiter observe the same terminal error.
func (c *MplexConnection) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	streams := make([]*MplexStream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = make(map[streamKey]*MplexStream)
	c.mu.Unlock()

	for _, s := range streams {
		s.forceTerminal(p2perr.ErrConnectionClosed)
	}

	c.acceptMu.Lock()
	if c.acceptErr == nil {
		c.acceptErr = p2perr.ErrConnectionClosed
	}
	if c.acceptWaiter != nil {
		close(c.acceptWaiter)
		c.acceptWaiter = nil
	}
	c.acceptQueue = nil
	c.acceptMu.Unlock()

	_ = cause // cause is logged by callers closer to the failure; connection-level API only surfaces ConnectionClosed
}

// Close tears the connection down from the local side: cancels the
// reader task and closes the underlying secured connection. Idempotent.
func (c *MplexConnection) Close() error {
	c.cancel()
	err := c.secured.Close()
	<-c.readerDone
	c.teardown(p2perr.ErrConnectionClosed)
	return err
}
