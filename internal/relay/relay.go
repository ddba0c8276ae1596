// Package relay implements a Circuit Relay v2 client: reservation
// management with auto-renewal, outbound connect-through-relay, and the
// listener registry that serves inbound Stop streams.
package relay

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/relay/pb"
	"github.com/p2pstack/corenet/internal/varint"
)

var log = logging.Logger("relay")

const maxMessageSize = 4096

// HopProtocolID and StopProtocolID are the Circuit Relay v2 sub-protocol
// tags a caller's stream dispatcher uses to route an inbound stream to
// HandleStopStream, and that StreamOpener.OpenStream receives for an
// outbound Hop exchange.
const (
	HopProtocolID  = "/libp2p/circuit/relay/0.2.0/hop"
	StopProtocolID = "/libp2p/circuit/relay/0.2.0/stop"
)

// Stream is the minimal duplex-byte-stream contract this package needs
// from whatever carries a Hop or Stop exchange (an mplex stream in the
// CLI demo, a fake in unit tests).
type Stream interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(ctx context.Context) error
}

// StreamOpener opens an outbound stream speaking protocolID to peer p.
// Protocol negotiation/dialing live outside this package.
type StreamOpener interface {
	OpenStream(ctx context.Context, p peerid.ID, protocolID string) (Stream, error)
}

// Config holds Circuit Relay v2 tuning, defaults per the configuration
// reference table.
type Config struct {
	MaxReservations         int
	MaxCircuitsPerPeer      int
	ReservationLifetime     time.Duration
	DataLimitPerCircuit     uint64
	DurationLimitPerCircuit time.Duration
	AutoRenewReservations   bool
	ListenerQueueCap        int
	RenewalLeadTime         time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxReservations:         128,
		MaxCircuitsPerPeer:      16,
		ReservationLifetime:     time.Hour,
		DataLimitPerCircuit:     128 << 10,
		DurationLimitPerCircuit: 2 * time.Minute,
		AutoRenewReservations:   true,
		ListenerQueueCap:        64,
		RenewalLeadTime:         time.Minute,
	}
}

// ActiveReservation is a granted, possibly auto-renewing slot on a relay.
type ActiveReservation struct {
	RelayPeer  peerid.ID
	Expiration time.Time
	DataLimit  uint64
	Duration   time.Duration
	Addrs      []string
}

// EventKind tags a RelayEvent's payload.
type EventKind int

const (
	EventReservationRenewalFailed EventKind = iota
)

// Event is emitted on the client's event bus.
type Event struct {
	Kind  EventKind
	Relay peerid.ID
	Err   error
}

func statusError(s pb.Status) error {
	switch s {
	case pb.StatusOK:
		return nil
	case pb.StatusReservationRefused:
		return p2perr.New(p2perr.KindNoReservation, "relay: reservation refused")
	case pb.StatusResourceLimitExceeded:
		return p2perr.New(p2perr.KindResourceLimitExceeded, "relay: resource limit exceeded")
	case pb.StatusPermissionDenied:
		return p2perr.New(p2perr.KindNoReservation, "relay: permission denied")
	case pb.StatusConnectionFailed:
		return p2perr.New(p2perr.KindInternal, "relay: connection failed")
	default:
		return p2perr.New(p2perr.KindMalformedMessage, "relay: malformed status")
	}
}

// writeLengthPrefixed frames payload with a varint length prefix and
// writes it to s, rejecting payloads over max_message_size.
func writeLengthPrefixed(ctx context.Context, s Stream, payload []byte) error {
	if len(payload) > maxMessageSize {
		return p2perr.New(p2perr.KindMessageTooLarge, "relay: message exceeds max_message_size")
	}
	framed := varint.Encode(nil, uint64(len(payload)))
	framed = append(framed, payload...)
	return s.Write(ctx, framed)
}

// readLengthPrefixed reads one varint-length-prefixed message from s,
// accumulating chunks until the full payload has arrived.
func readLengthPrefixed(ctx context.Context, s Stream) ([]byte, error) {
	var buf []byte
	for {
		if len(buf) > 0 {
			n, consumed, err := varint.Decode(buf)
			if err == nil {
				if n > maxMessageSize {
					return nil, p2perr.New(p2perr.KindMessageTooLarge, "relay: message exceeds max_message_size")
				}
				for len(buf) < consumed+int(n) {
					chunk, err := s.Read(ctx)
					if err != nil {
						return nil, err
					}
					buf = append(buf, chunk...)
				}
				return buf[consumed : consumed+int(n)], nil
			}
			if kind, ok := p2perr.Of(err); !ok || kind != p2perr.KindProtobufTruncated {
				return nil, err
			}
		}
		chunk, err := s.Read(ctx)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
}

func writeHop(ctx context.Context, s Stream, m *pb.HopMessage) error {
	return writeLengthPrefixed(ctx, s, m.Marshal())
}

func readHop(ctx context.Context, s Stream) (*pb.HopMessage, error) {
	buf, err := readLengthPrefixed(ctx, s)
	if err != nil {
		return nil, err
	}
	return pb.UnmarshalHopMessage(buf, maxMessageSize)
}

func writeStop(ctx context.Context, s Stream, m *pb.StopMessage) error {
	return writeLengthPrefixed(ctx, s, m.Marshal())
}

func readStop(ctx context.Context, s Stream) (*pb.StopMessage, error) {
	buf, err := readLengthPrefixed(ctx, s)
	if err != nil {
		return nil, err
	}
	return pb.UnmarshalStopMessage(buf, maxMessageSize)
}
