// Package p2perr defines the tagged-sum error kinds shared by every core
// subsystem (mplex, gossipsub, relay, identity/addressing). Public APIs
// return these via errors.Is-comparable sentinels, never panics.
package p2perr

import "errors"

// Kind tags an error with the category it belongs to.
type Kind string

const (
	// Transport / framing
	KindConnectionClosed  Kind = "connection_closed"
	KindFrameTooLarge     Kind = "frame_too_large"
	KindInvalidWireType   Kind = "invalid_wire_type"
	KindProtobufTruncated Kind = "protobuf_truncated"
	KindMessageTooLarge   Kind = "message_too_large"
	KindVarintOverflow    Kind = "varint_overflow"

	// Identity / crypto
	KindInvalidSignature  Kind = "invalid_signature"
	KindPeerIDMismatch    Kind = "peer_id_mismatch"
	KindUnsupportedKey    Kind = "unsupported_key_type"

	// Multiplexer
	KindStreamReset          Kind = "stream_reset"
	KindStreamClosed         Kind = "stream_closed"
	KindDuplicateStreamID    Kind = "duplicate_stream_id"
	KindMaxStreamsExceeded   Kind = "max_streams_exceeded"

	// GossipSub
	KindDuplicateMessage Kind = "duplicate_message"
	KindBackoffNotElapsed Kind = "backoff_not_elapsed"
	KindMeshFull         Kind = "mesh_full"
	KindUnknownTopic     Kind = "unknown_topic"
	KindMalformedMessage Kind = "malformed_message"

	// Relay
	KindNoReservation        Kind = "no_reservation"
	KindReservationExpired   Kind = "reservation_expired"
	KindResourceLimitExceeded Kind = "resource_limit_exceeded"
	KindListenerClosed       Kind = "listener_closed"
	KindUnsupportedAddress   Kind = "unsupported_address"

	// Timing
	KindTimeout   Kind = "timeout"
	KindCancelled Kind = "cancelled"

	// Internal failures surfaced by an underlying library that don't fit
	// any domain category above (e.g. handshake state construction).
	KindInternal Kind = "internal"
)

// Error is the concrete tagged error type. The zero value is not usable;
// construct with New or Wrap.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, p2perr.New(p2perr.KindStreamReset, "")) or,
// more idiomatically, compare against the Err* sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// sentinel builds a comparison target for errors.Is — it carries no
// message or cause, only the Kind, which is all Is() compares.
func sentinel(k Kind) *Error { return &Error{Kind: k} }

// Sentinels for errors.Is(err, p2perr.ErrStreamReset) style comparisons.
var (
	ErrConnectionClosed      = sentinel(KindConnectionClosed)
	ErrFrameTooLarge         = sentinel(KindFrameTooLarge)
	ErrInvalidWireType       = sentinel(KindInvalidWireType)
	ErrProtobufTruncated     = sentinel(KindProtobufTruncated)
	ErrMessageTooLarge       = sentinel(KindMessageTooLarge)
	ErrVarintOverflow        = sentinel(KindVarintOverflow)
	ErrInvalidSignature      = sentinel(KindInvalidSignature)
	ErrPeerIDMismatch        = sentinel(KindPeerIDMismatch)
	ErrUnsupportedKey        = sentinel(KindUnsupportedKey)
	ErrStreamReset           = sentinel(KindStreamReset)
	ErrStreamClosed          = sentinel(KindStreamClosed)
	ErrDuplicateStreamID     = sentinel(KindDuplicateStreamID)
	ErrMaxStreamsExceeded    = sentinel(KindMaxStreamsExceeded)
	ErrDuplicateMessage      = sentinel(KindDuplicateMessage)
	ErrBackoffNotElapsed     = sentinel(KindBackoffNotElapsed)
	ErrMeshFull              = sentinel(KindMeshFull)
	ErrUnknownTopic          = sentinel(KindUnknownTopic)
	ErrMalformedMessage      = sentinel(KindMalformedMessage)
	ErrNoReservation         = sentinel(KindNoReservation)
	ErrReservationExpired    = sentinel(KindReservationExpired)
	ErrResourceLimitExceeded = sentinel(KindResourceLimitExceeded)
	ErrListenerClosed        = sentinel(KindListenerClosed)
	ErrUnsupportedAddress    = sentinel(KindUnsupportedAddress)
	ErrTimeout               = sentinel(KindTimeout)
	ErrCancelled             = sentinel(KindCancelled)
	ErrInternal              = sentinel(KindInternal)
)

// Of reports the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
