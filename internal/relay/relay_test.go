package relay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/relay/pb"
)

// duplexStream is an in-memory duplex byte stream standing in for an
// mplex stream in tests: writes on one side are readable on the other.
type duplexStream struct {
	out chan []byte
	in  chan []byte
}

func newDuplexPair() (*duplexStream, *duplexStream) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	return &duplexStream{out: c1, in: c2}, &duplexStream{out: c2, in: c1}
}

func (d *duplexStream) Write(_ context.Context, data []byte) error {
	d.out <- append([]byte(nil), data...)
	return nil
}

func (d *duplexStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-d.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *duplexStream) Close(_ context.Context) error {
	return nil
}

// fakeRelayServer drives the relay side of a Hop exchange for tests,
// answering RESERVE and CONNECT with canned STATUS responses.
type fakeRelayServer struct {
	s           *duplexStream
	reservation *pb.Reservation
	limit       *pb.Limit
	status      pb.Status
}

func (f *fakeRelayServer) serveOne(ctx context.Context) error {
	req, err := readHop(ctx, f.s)
	if err != nil {
		return err
	}
	resp := &pb.HopMessage{Type: pb.HopStatus, Status: f.status, Limit: f.limit}
	if req.Type == pb.HopReserve && f.status == pb.StatusOK {
		resp.Reservation = f.reservation
	}
	return writeHop(ctx, f.s, resp)
}

type fakeOpener struct {
	server *duplexStream
}

func (o *fakeOpener) OpenStream(_ context.Context, _ peerid.ID, _ string) (Stream, error) {
	return o.server, nil
}

func newTestPeerID(t *testing.T, seed byte) peerid.ID {
	t.Helper()
	return peerid.FromPublicKey([]byte{seed, 1, 2, 3, 4})
}

func TestReserveSucceedsAndRegistersListener(t *testing.T) {
	clientSide, serverSide := newDuplexPair()
	relayPeer := newTestPeerID(t, 1)

	srv := &fakeRelayServer{
		s:      serverSide,
		status: pb.StatusOK,
		reservation: &pb.Reservation{
			Expire: uint64(time.Now().Add(time.Hour).Unix()),
			Addrs:  [][]byte{[]byte("/ip4/1.2.3.4/tcp/4001")},
		},
		limit: &pb.Limit{Duration: 120, Data: 131072},
	}
	go srv.serveOne(context.Background())

	cfg := DefaultConfig()
	self := newTestPeerID(t, 2)
	client := NewRelayClient(cfg, &fakeOpener{server: clientSide}, self)

	resv, listener, err := client.Reserve(context.Background(), relayPeer)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if resv.RelayPeer != relayPeer {
		t.Fatalf("unexpected relay peer on reservation")
	}
	if listener == nil {
		t.Fatalf("expected a listener")
	}
	client.mu.Lock()
	_, registered := client.listeners[relayPeer]
	client.mu.Unlock()
	if !registered {
		t.Fatalf("expected listener registered under relay peer")
	}
	listener.Close()
}

func TestReserveRefusedReturnsError(t *testing.T) {
	clientSide, serverSide := newDuplexPair()
	relayPeer := newTestPeerID(t, 1)

	srv := &fakeRelayServer{s: serverSide, status: pb.StatusReservationRefused}
	go srv.serveOne(context.Background())

	cfg := DefaultConfig()
	cfg.AutoRenewReservations = false
	client := NewRelayClient(cfg, &fakeOpener{server: clientSide}, newTestPeerID(t, 2))

	if _, _, err := client.Reserve(context.Background(), relayPeer); err == nil {
		t.Fatalf("expected reservation refusal to surface as an error")
	}
}

func TestListenerEnqueueDropsOldestWhenFull(t *testing.T) {
	relayPeer := newTestPeerID(t, 1)
	cfg := DefaultConfig()
	client := NewRelayClient(cfg, nil, newTestPeerID(t, 2))
	resv := &ActiveReservation{RelayPeer: relayPeer, Expiration: time.Now().Add(time.Hour)}
	listener := newRelayListener(client, relayPeer, "addr", resv, 2)
	defer listener.Close()

	mkConn := func() *RelayedConnection {
		a, _ := newDuplexPair()
		return newRelayedConnection(a, "l", "r", nil)
	}

	first := mkConn()
	second := mkConn()
	third := mkConn()

	listener.enqueue(first)
	listener.enqueue(second)
	listener.enqueue(third) // queue at cap 2, should drop `first`

	listener.mu.Lock()
	qlen := len(listener.queue)
	listener.mu.Unlock()
	if qlen != 2 {
		t.Fatalf("expected queue length 2 after drop, got %d", qlen)
	}

	// first was dropped by the enqueue above; Close is idempotent, so
	// calling it again here should be a harmless no-op.
	if err := first.Close(); err != nil {
		t.Fatalf("dropped connection close returned error: %v", err)
	}

	got, err := listener.Accept(context.Background())
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got != second {
		t.Fatalf("expected FIFO order to yield `second` first")
	}
}

func TestListenerAcceptHandsOffToWaiter(t *testing.T) {
	relayPeer := newTestPeerID(t, 1)
	cfg := DefaultConfig()
	client := NewRelayClient(cfg, nil, newTestPeerID(t, 2))
	resv := &ActiveReservation{RelayPeer: relayPeer, Expiration: time.Now().Add(time.Hour)}
	listener := newRelayListener(client, relayPeer, "addr", resv, 4)
	defer listener.Close()

	resultCh := make(chan *RelayedConnection, 1)
	go func() {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		resultCh <- conn
	}()

	time.Sleep(20 * time.Millisecond) // let Accept install its waiter
	a, _ := newDuplexPair()
	conn := newRelayedConnection(a, "l", "r", nil)
	listener.enqueue(conn)

	select {
	case got := <-resultCh:
		if got != conn {
			t.Fatalf("expected the enqueued connection to be delivered to the waiter")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Accept to resolve")
	}
}

func TestListenerCloseResumesWaiterWithError(t *testing.T) {
	relayPeer := newTestPeerID(t, 1)
	cfg := DefaultConfig()
	client := NewRelayClient(cfg, nil, newTestPeerID(t, 2))
	resv := &ActiveReservation{RelayPeer: relayPeer, Expiration: time.Now().Add(time.Hour)}
	listener := newRelayListener(client, relayPeer, "addr", resv, 4)

	errCh := make(chan error, 1)
	go func() {
		_, err := listener.Accept(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	listener.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected an error once the listener closes")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Accept to resolve after Close")
	}
}

func TestRelayedConnectionEnforcesDataLimit(t *testing.T) {
	a, b := newDuplexPair()
	conn := newRelayedConnection(a, "l", "r", &ActiveReservationLimit{Data: 10})

	go b.Write(context.Background(), make([]byte, 6))
	if _, err := conn.Read(context.Background()); err != nil {
		t.Fatalf("first chunk should be within limit: %v", err)
	}

	go b.Write(context.Background(), make([]byte, 6))
	if _, err := conn.Read(context.Background()); err == nil {
		t.Fatalf("expected the second chunk to push past the data limit")
	}
}

func TestRelayedConnectionWriteSplitsLargeBufferIntoChunks(t *testing.T) {
	a, b := newDuplexPair()
	const limit = 20 * 1024 // well above one chunk, well below the full write
	conn := newRelayedConnection(a, "l", "r", &ActiveReservationLimit{Data: limit})

	big := make([]byte, 50*1024) // a single write far larger than the limit
	errCh := make(chan error, 1)
	go func() { errCh <- conn.Write(context.Background(), big) }()

	var forwarded int
	for forwarded <= limit {
		select {
		case chunk := <-b.in:
			if len(chunk) > maxAccountingChunk {
				t.Fatalf("forwarded chunk of %d bytes exceeds maxAccountingChunk (%d)", len(chunk), maxAccountingChunk)
			}
			forwarded += len(chunk)
		case err := <-errCh:
			t.Fatalf("write returned before the limit was reached (forwarded %d bytes): %v", forwarded, err)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for a forwarded chunk")
		}
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected write to fail once the data limit is exceeded")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Write to return")
	}

	if forwarded >= len(big) {
		t.Fatalf("expected Write to stop well before forwarding the entire %d-byte buffer, forwarded %d", len(big), forwarded)
	}
	if forwarded-maxAccountingChunk >= limit {
		t.Fatalf("overshoot exceeded one chunk: forwarded=%d limit=%d", forwarded, limit)
	}
}
