package gossipsub

import "github.com/p2pstack/corenet/internal/peerid"

// EventKind tags the shape of an Event's payload.
type EventKind int

const (
	EventPeerSubscribed EventKind = iota
	EventGrafted
	EventPeerJoinedMesh
	EventRejectMessage
)

// RejectReason explains why an inbound message never reached any
// subscriber.
type RejectReason string

const (
	RejectInvalidSignature  RejectReason = "invalid_signature"
	RejectStructuralInvalid RejectReason = "structural_invalid"
	RejectValidatorRejected RejectReason = "validator_rejected"
)

// Event is the single payload type the router emits on its event bus;
// Kind discriminates which fields are meaningful.
type Event struct {
	Kind   EventKind
	Peer   peerid.ID
	Topic  string
	Reason RejectReason // only set for EventRejectMessage
}
