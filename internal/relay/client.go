package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p2pstack/corenet/internal/eventbus"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/relay/pb"
)

// RelayClient holds every reservation and listener this local peer
// maintains, across however many relays it uses.
type RelayClient struct {
	self   peerid.ID
	opener StreamOpener
	cfg    Config
	bus    *eventbus.Bus[Event]

	mu           sync.Mutex
	reservations map[peerid.ID]*ActiveReservation
	listeners    map[peerid.ID]*RelayListener
	renewStops   map[peerid.ID]chan struct{}
}

// NewRelayClient constructs a client. self is this peer's own id, used
// to build advertisable circuit addresses.
func NewRelayClient(cfg Config, opener StreamOpener, self peerid.ID) *RelayClient {
	return &RelayClient{
		self:         self,
		opener:       opener,
		cfg:          cfg,
		bus:          eventbus.New[Event](),
		reservations: make(map[peerid.ID]*ActiveReservation),
		listeners:    make(map[peerid.ID]*RelayListener),
		renewStops:   make(map[peerid.ID]chan struct{}),
	}
}

// Events returns a subscription to reservation-lifecycle events.
func (c *RelayClient) Events() *eventbus.Subscription[Event] {
	return c.bus.Subscribe()
}

func circuitAddr(relay peerid.ID, self peerid.ID) string {
	return fmt.Sprintf("/p2p/%s/p2p-circuit/p2p/%s", relay.String(), self.String())
}

// Reserve opens a Hop stream to relay, requests a reservation, and on
// success starts (if configured) an auto-renewal timer and returns both
// the reservation and a listener already registered to receive inbound
// circuits on it.
func (c *RelayClient) Reserve(ctx context.Context, relay peerid.ID) (*ActiveReservation, *RelayListener, error) {
	resv, err := c.requestReservation(ctx, relay)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.reservations[relay] = resv
	listener := newRelayListener(c, relay, circuitAddr(relay, c.self), resv, c.cfg.ListenerQueueCap)
	c.listeners[relay] = listener
	c.mu.Unlock()

	if c.cfg.AutoRenewReservations {
		c.startAutoRenew(relay, listener)
	}
	return resv, listener, nil
}

func (c *RelayClient) requestReservation(ctx context.Context, relay peerid.ID) (*ActiveReservation, error) {
	trace := reservationTraceID()
	log.Debugf("relay[%s]: requesting reservation on %s", trace, relay)
	s, err := c.opener.OpenStream(ctx, relay, HopProtocolID)
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindInternal, "relay: opening Hop stream failed", err)
	}
	defer s.Close(ctx)

	if err := writeHop(ctx, s, &pb.HopMessage{Type: pb.HopReserve}); err != nil {
		return nil, err
	}
	resp, err := readHop(ctx, s)
	if err != nil {
		return nil, err
	}
	if resp.Type != pb.HopStatus {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "relay: expected STATUS response to RESERVE")
	}
	if err := statusError(resp.Status); err != nil {
		return nil, err
	}
	if resp.Reservation == nil {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "relay: OK status missing reservation")
	}

	resv := &ActiveReservation{
		RelayPeer:  relay,
		Expiration: time.Unix(int64(resp.Reservation.Expire), 0),
	}
	if resp.Limit != nil {
		resv.DataLimit = resp.Limit.Data
		resv.Duration = time.Duration(resp.Limit.Duration) * time.Second
	}
	for _, a := range resp.Reservation.Addrs {
		resv.Addrs = append(resv.Addrs, string(a))
	}
	if len(resv.Addrs) == 0 {
		resv.Addrs = []string{circuitAddr(relay, c.self)}
	}
	log.Debugf("relay[%s]: reservation on %s granted, expires %s", trace, relay, resv.Expiration)
	return resv, nil
}

// startAutoRenew fires a renewal request at expiration-renewal_lead,
// retrying with backoff up to expiration on failure, per the reservation
// flow.
func (c *RelayClient) startAutoRenew(relay peerid.ID, listener *RelayListener) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.renewStops[relay] = stop
	c.mu.Unlock()

	go func() {
		backoff := time.Second
		for {
			c.mu.Lock()
			resv := c.reservations[relay]
			c.mu.Unlock()
			if resv == nil {
				return
			}

			wait := time.Until(resv.Expiration.Add(-c.cfg.RenewalLeadTime))
			if wait < 0 {
				wait = 0
			}
			select {
			case <-time.After(wait):
			case <-stop:
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			newResv, err := c.requestReservation(ctx, relay)
			cancel()
			if err != nil {
				c.bus.Emit(Event{Kind: EventReservationRenewalFailed, Relay: relay, Err: err})
				if time.Now().After(resv.Expiration) {
					return
				}
				select {
				case <-time.After(backoff):
				case <-stop:
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}

			backoff = time.Second
			c.mu.Lock()
			c.reservations[relay] = newResv
			c.mu.Unlock()
			listener.updateReservation(newResv)
		}
	}()
}

// unregisterListener removes relay's listener entry and stops its
// renewal loop, called from RelayListener.Close.
func (c *RelayClient) unregisterListener(relay peerid.ID) {
	c.mu.Lock()
	delete(c.listeners, relay)
	delete(c.reservations, relay)
	stop := c.renewStops[relay]
	delete(c.renewStops, relay)
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// ConnectThrough opens a Hop stream to relay, requests a circuit to
// target, and on success wraps the same stream as a RelayedConnection.
func (c *RelayClient) ConnectThrough(ctx context.Context, relay, target peerid.ID) (*RelayedConnection, error) {
	s, err := c.opener.OpenStream(ctx, relay, HopProtocolID)
	if err != nil {
		return nil, p2perr.Wrap(p2perr.KindInternal, "relay: opening Hop stream failed", err)
	}
	if err := writeHop(ctx, s, &pb.HopMessage{Type: pb.HopConnect, Peer: target.Bytes()}); err != nil {
		s.Close(ctx)
		return nil, err
	}
	resp, err := readHop(ctx, s)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	if resp.Type != pb.HopStatus {
		s.Close(ctx)
		return nil, p2perr.New(p2perr.KindMalformedMessage, "relay: expected STATUS response to CONNECT")
	}
	if err := statusError(resp.Status); err != nil {
		s.Close(ctx)
		return nil, err
	}

	var limit *ActiveReservationLimit
	if resp.Limit != nil {
		limit = &ActiveReservationLimit{Data: resp.Limit.Data, Duration: time.Duration(resp.Limit.Duration) * time.Second}
	}
	return newRelayedConnection(s, circuitAddr(relay, c.self), circuitAddr(relay, target), limit), nil
}

// HandleStopStream processes one inbound Stop stream. It is called by
// the caller's inbound-stream dispatcher whenever a peer negotiates the
// Stop protocol on a connection to this client.
func (c *RelayClient) HandleStopStream(ctx context.Context, relay peerid.ID, s Stream) error {
	req, err := readStop(ctx, s)
	if err != nil {
		return err
	}
	if req.Type != pb.StopConnect {
		s.Close(ctx)
		return p2perr.New(p2perr.KindMalformedMessage, "relay: expected CONNECT on Stop stream")
	}

	c.mu.Lock()
	listener, ok := c.listeners[relay]
	c.mu.Unlock()
	if !ok {
		writeStop(ctx, s, &pb.StopMessage{Type: pb.StopStatus, Status: pb.StatusResourceLimitExceeded})
		s.Close(ctx)
		return p2perr.New(p2perr.KindNoReservation, "relay: no listener registered for relay")
	}

	if err := writeStop(ctx, s, &pb.StopMessage{Type: pb.StopStatus, Status: pb.StatusOK}); err != nil {
		s.Close(ctx)
		return err
	}

	var limit *ActiveReservationLimit
	if req.Limit != nil {
		limit = &ActiveReservationLimit{Data: req.Limit.Data, Duration: time.Duration(req.Limit.Duration) * time.Second}
	}
	source := peerid.FromBytes(req.Peer)
	conn := newRelayedConnection(s, circuitAddr(relay, c.self), circuitAddr(relay, source), limit)
	listener.enqueue(conn)
	return nil
}

// reservationTraceID is a diagnostic correlation id for logs spanning a
// reserve/renew cycle.
func reservationTraceID() string {
	return uuid.NewString()
}
