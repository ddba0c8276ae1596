package mplex

import (
	"context"
	"io"
	"sync"

	"github.com/p2pstack/corenet/internal/p2perr"
)

// MplexStream is one multiplexed stream: independent half-close flags for
// each direction, a terminal error once reset or the owning connection
// tears down, and an inbound byte buffer.
type MplexStream struct {
	id        uint64
	initiator bool // true if this side called NewStream to open it

	conn *MplexConnection

	mu                sync.Mutex
	buf               []byte
	localWriteClosed  bool
	localReadClosed   bool
	remoteWriteClosed bool
	terminalErr       error // non-nil once reset or the connection closed
	notify            chan struct{}

	// protocolID is set once a higher layer negotiates a protocol over
	// this stream; mplex itself never inspects it.
	protocolID string
}

func newMplexStream(conn *MplexConnection, id uint64, initiator bool) *MplexStream {
	return &MplexStream{
		id:        id,
		initiator: initiator,
		conn:      conn,
		notify:    make(chan struct{}),
	}
}

// ID returns the stream's id, valid only in combination with which side
// opened it.
func (s *MplexStream) ID() uint64 { return s.id }

// Initiator reports whether this side opened the stream.
func (s *MplexStream) Initiator() bool { return s.initiator }

func (s *MplexStream) SetProtocolID(id string) {
	s.mu.Lock()
	s.protocolID = id
	s.mu.Unlock()
}

func (s *MplexStream) ProtocolID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolID
}

// wakeLocked resumes every waiter blocked in Read, called with s.mu held.
func (s *MplexStream) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// pushData appends data delivered by the connection's reader task and
// wakes any blocked Read. Bytes beyond max_buffered_per_stream cause the
// stream to reset instead of buffering further.
func (s *MplexStream) pushData(data []byte, maxBuffered int) {
	s.mu.Lock()
	if s.terminalErr != nil || s.remoteWriteClosed {
		s.mu.Unlock()
		return
	}
	if maxBuffered > 0 && len(s.buf)+len(data) > maxBuffered {
		s.mu.Unlock()
		s.resetLocal(true)
		return
	}
	s.buf = append(s.buf, data...)
	s.wakeLocked()
	s.mu.Unlock()
}

// markRemoteClosed handles an inbound Close*: sets remote_write_closed and
// wakes waiters so a drained buffer now yields EOF.
func (s *MplexStream) markRemoteClosed() {
	s.mu.Lock()
	if s.terminalErr != nil {
		s.mu.Unlock()
		return
	}
	s.remoteWriteClosed = true
	s.wakeLocked()
	s.mu.Unlock()
}

// markReset handles an inbound Reset*: resets the stream without sending
// a frame back (the peer already knows).
func (s *MplexStream) markReset() {
	s.mu.Lock()
	if s.terminalErr != nil {
		s.mu.Unlock()
		return
	}
	s.terminalErr = p2perr.ErrStreamReset
	s.buf = nil
	s.wakeLocked()
	s.mu.Unlock()
}

// Write sends data as one or more Message frames, split to max_frame_size.
func (s *MplexStream) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	if s.terminalErr != nil {
		err := s.terminalErr
		s.mu.Unlock()
		return err
	}
	if s.localWriteClosed {
		s.mu.Unlock()
		return p2perr.ErrStreamClosed
	}
	s.mu.Unlock()

	flag := FlagMessageReceiver
	if s.initiator {
		flag = FlagMessageInitiator
	}
	maxFrame := s.conn.cfg.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	for len(data) > 0 {
		chunk := data
		if len(chunk) > maxFrame {
			chunk = data[:maxFrame]
		}
		if err := s.conn.writeFrame(ctx, s.id, flag, chunk); err != nil {
			return err
		}
		data = data[len(chunk):]
	}
	return nil
}

// Read returns the next chunk of buffered inbound data, blocking until
// data arrives, the stream closes for reading, or ctx is cancelled.
func (s *MplexStream) Read(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			data := s.buf
			s.buf = nil
			s.mu.Unlock()
			return data, nil
		}
		if s.terminalErr != nil {
			err := s.terminalErr
			s.mu.Unlock()
			return nil, err
		}
		if s.localReadClosed || s.remoteWriteClosed {
			s.mu.Unlock()
			return nil, io.EOF
		}
		notify := s.notify
		s.mu.Unlock()

		select {
		case <-notify:
			continue
		case <-ctx.Done():
			return nil, p2perr.Wrap(p2perr.KindCancelled, "mplex: read cancelled", ctx.Err())
		}
	}
}

// CloseWrite idempotently closes the local write half, sending Close*
// exactly once.
func (s *MplexStream) CloseWrite(ctx context.Context) error {
	s.mu.Lock()
	if s.localWriteClosed {
		s.mu.Unlock()
		return nil
	}
	s.localWriteClosed = true
	s.mu.Unlock()

	flag := FlagCloseReceiver
	if s.initiator {
		flag = FlagCloseInitiator
	}
	return s.conn.writeFrame(ctx, s.id, flag, nil)
}

// CloseRead idempotently closes the local read half: clears the buffer
// and resumes waiters with EOF. No frame is sent.
func (s *MplexStream) CloseRead() {
	s.mu.Lock()
	if s.localReadClosed {
		s.mu.Unlock()
		return
	}
	s.localReadClosed = true
	s.buf = nil
	s.wakeLocked()
	s.mu.Unlock()
}

// Close closes both halves.
func (s *MplexStream) Close(ctx context.Context) error {
	err := s.CloseWrite(ctx)
	s.CloseRead()
	return err
}

// Reset aborts the stream from the local side, sending Reset* once and
// failing all pending and future Read/Write calls.
func (s *MplexStream) Reset(ctx context.Context) error {
	return s.resetLocal(false)
}

// resetLocal is the shared implementation for Reset and the
// buffer-overflow reset triggered from pushData. silent suppresses the
// outbound frame send (used when the local buffer cap forces a reset
// the peer will discover from the connection simply going quiet).
func (s *MplexStream) resetLocal(silent bool) error {
	s.mu.Lock()
	if s.terminalErr != nil {
		s.mu.Unlock()
		return nil
	}
	s.terminalErr = p2perr.ErrStreamReset
	s.buf = nil
	s.wakeLocked()
	s.mu.Unlock()

	s.conn.forgetStream(s)

	if silent {
		return nil
	}
	flag := FlagResetReceiver
	if s.initiator {
		flag = FlagResetInitiator
	}
	return s.conn.writeFrame(context.Background(), s.id, flag, nil)
}

// forceTerminal is called by the connection on teardown: every stream
// observes the same terminal error (typically ConnectionClosed) without
// sending any frame.
func (s *MplexStream) forceTerminal(err error) {
	s.mu.Lock()
	if s.terminalErr != nil {
		s.mu.Unlock()
		return
	}
	s.terminalErr = err
	s.buf = nil
	s.wakeLocked()
	s.mu.Unlock()
}
