package relay

import (
	"context"
	"sync"
	"time"

	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
)

// RelayListener serves inbound circuits arriving through a reservation
// on one relay: a bounded drop-oldest FIFO of queued connections, at
// most one waiting accepter, and a background expiration monitor.
//
// The FIFO is deliberately not util.RingBuffer: a plain ring-buffer
// overwrite on a full buffer would silently drop the oldest element
// without ever invoking its Close, violating the requirement that a
// dropped connection's close is observed and invoked exactly once.
type RelayListener struct {
	relayPeer peerid.ID
	localAddr string
	client    *RelayClient

	mu      sync.Mutex
	queue   []*RelayedConnection
	cap     int
	waiter  chan acceptResult
	closed  bool
	resv    *ActiveReservation

	stopMonitor chan struct{}
	monitorDone chan struct{}
}

type acceptResult struct {
	conn *RelayedConnection
	err  error
}

func newRelayListener(client *RelayClient, relayPeer peerid.ID, localAddr string, resv *ActiveReservation, queueCap int) *RelayListener {
	l := &RelayListener{
		relayPeer:   relayPeer,
		localAddr:   localAddr,
		client:      client,
		cap:         queueCap,
		resv:        resv,
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	go l.expirationMonitor(l.stopMonitor, l.monitorDone)
	return l
}

// enqueue hands conn directly to a waiting accepter, or appends it to
// the FIFO, dropping (and closing, off the critical path) the oldest
// entry if the FIFO was already at capacity.
func (l *RelayListener) enqueue(conn *RelayedConnection) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Close()
		return
	}
	if l.waiter != nil {
		w := l.waiter
		l.waiter = nil
		l.mu.Unlock()
		w <- acceptResult{conn: conn}
		return
	}
	var dropped *RelayedConnection
	l.queue = append(l.queue, conn)
	if len(l.queue) > l.cap {
		dropped = l.queue[0]
		l.queue = l.queue[1:]
	}
	l.mu.Unlock()
	if dropped != nil {
		dropped.Close()
	}
}

// Accept blocks until a connection is available, the listener closes,
// or ctx is cancelled. Only one Accept call may be outstanding at a
// time (spec: "at most one waiting accepter").
func (l *RelayListener) Accept(ctx context.Context) (*RelayedConnection, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, p2perr.New(p2perr.KindListenerClosed, "relay: listener closed")
	}
	if len(l.queue) > 0 {
		conn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		return conn, nil
	}
	if l.waiter != nil {
		l.mu.Unlock()
		return nil, p2perr.New(p2perr.KindInternal, "relay: concurrent Accept calls not supported")
	}
	ch := make(chan acceptResult, 1)
	l.waiter = ch
	l.mu.Unlock()

	select {
	case res := <-ch:
		return res.conn, res.err
	case <-ctx.Done():
		l.mu.Lock()
		if l.waiter == ch {
			l.waiter = nil
		}
		l.mu.Unlock()
		return nil, p2perr.Wrap(p2perr.KindCancelled, "relay: accept cancelled", ctx.Err())
	}
}

// Close unregisters the listener, stops the expiration monitor, resumes
// any waiting accepter with a closed error, and drains the queue.
func (l *RelayListener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	waiter := l.waiter
	l.waiter = nil
	queued := l.queue
	l.queue = nil
	stopMonitor := l.stopMonitor
	l.mu.Unlock()

	l.client.unregisterListener(l.relayPeer)
	close(stopMonitor)

	if waiter != nil {
		waiter <- acceptResult{err: p2perr.New(p2perr.KindListenerClosed, "relay: listener closed")}
	}
	for _, c := range queued {
		c.Close()
	}
}

func (l *RelayListener) expirationMonitor(stop chan struct{}, done chan struct{}) {
	defer close(done)
	l.mu.Lock()
	expiration := l.resv.Expiration
	l.mu.Unlock()

	timer := time.NewTimer(time.Until(expiration))
	defer timer.Stop()
	select {
	case <-timer.C:
		log.Warnf("relay: reservation on %s expired, closing listener", l.relayPeer)
		l.Close()
	case <-stop:
	}
}

// updateReservation is called after a successful renewal: it restarts
// the expiration monitor against the new deadline.
func (l *RelayListener) updateReservation(resv *ActiveReservation) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.resv = resv
	oldStop := l.stopMonitor
	oldDone := l.monitorDone
	l.stopMonitor = make(chan struct{})
	l.monitorDone = make(chan struct{})
	newStop, newDone := l.stopMonitor, l.monitorDone
	l.mu.Unlock()

	close(oldStop)
	<-oldDone
	go l.expirationMonitor(newStop, newDone)
}
