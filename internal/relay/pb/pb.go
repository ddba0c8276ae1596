// Package pb holds the hand-written wire codecs for the Circuit Relay
// Hop and Stop sub-protocols, built on internal/wireformat the same way
// gossipsub/pb is.
package pb

import (
	"github.com/p2pstack/corenet/internal/wireformat"
)

// HopType is a HopMessage's discriminator.
type HopType int

const (
	HopReserve HopType = iota
	HopConnect
	HopStatus
)

// StopType is a StopMessage's discriminator.
type StopType int

const (
	StopConnect StopType = iota
	StopStatus
)

// Status is the result code carried by a STATUS message.
type Status int

const (
	StatusOK Status = iota
	StatusReservationRefused
	StatusResourceLimitExceeded
	StatusPermissionDenied
	StatusConnectionFailed
	StatusMalformedMessage
)

// Limit bounds a single circuit: total bytes and wall-clock duration.
type Limit struct {
	Duration uint32 // seconds, 0 = unspecified
	Data     uint64 // bytes, 0 = unspecified
}

// Reservation is the relay's grant: an expiration instant (Unix
// seconds) plus the advertised relay address bytes and a voucher the
// relay may attach.
type Reservation struct {
	Expire  uint64
	Addrs   [][]byte
	Voucher []byte
}

// HopMessage is exchanged on the client<->relay Hop stream.
type HopMessage struct {
	Type        HopType
	Peer        []byte // target peer id, for CONNECT
	Reservation *Reservation
	Limit       *Limit
	Status      Status
}

// StopMessage is exchanged on the relay->target Stop stream.
type StopMessage struct {
	Type   StopType
	Peer   []byte // source peer id
	Limit  *Limit
	Status Status
}

const (
	hopFieldType        = 1
	hopFieldPeer        = 2
	hopFieldReservation = 3
	hopFieldLimit       = 4
	hopFieldStatus      = 5

	reservationFieldExpire  = 1
	reservationFieldAddrs   = 2
	reservationFieldVoucher = 3

	limitFieldDuration = 1
	limitFieldData     = 2

	stopFieldType   = 1
	stopFieldPeer   = 2
	stopFieldLimit  = 3
	stopFieldStatus = 4
)

func marshalLimit(l *Limit) []byte {
	var dst []byte
	if l.Duration != 0 {
		dst = wireformat.AppendVarint(dst, limitFieldDuration, uint64(l.Duration))
	}
	if l.Data != 0 {
		dst = wireformat.AppendVarint(dst, limitFieldData, l.Data)
	}
	return dst
}

func unmarshalLimit(buf []byte) (*Limit, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return nil, err
	}
	l := &Limit{}
	for _, f := range fields {
		switch f.Num {
		case limitFieldDuration:
			l.Duration = uint32(f.Varint)
		case limitFieldData:
			l.Data = f.Varint
		}
	}
	return l, nil
}

func marshalReservation(r *Reservation) []byte {
	dst := wireformat.AppendVarint(nil, reservationFieldExpire, r.Expire)
	for _, a := range r.Addrs {
		dst = wireformat.AppendBytes(dst, reservationFieldAddrs, a)
	}
	if r.Voucher != nil {
		dst = wireformat.AppendBytes(dst, reservationFieldVoucher, r.Voucher)
	}
	return dst
}

func unmarshalReservation(buf []byte) (*Reservation, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return nil, err
	}
	r := &Reservation{}
	for _, f := range fields {
		switch f.Num {
		case reservationFieldExpire:
			r.Expire = f.Varint
		case reservationFieldAddrs:
			r.Addrs = append(r.Addrs, f.Bytes)
		case reservationFieldVoucher:
			r.Voucher = f.Bytes
		}
	}
	return r, nil
}

// Marshal encodes a HopMessage.
func (m *HopMessage) Marshal() []byte {
	dst := wireformat.AppendVarint(nil, hopFieldType, uint64(m.Type))
	if m.Peer != nil {
		dst = wireformat.AppendBytes(dst, hopFieldPeer, m.Peer)
	}
	if m.Reservation != nil {
		dst = wireformat.AppendBytes(dst, hopFieldReservation, marshalReservation(m.Reservation))
	}
	if m.Limit != nil {
		dst = wireformat.AppendBytes(dst, hopFieldLimit, marshalLimit(m.Limit))
	}
	if m.Type == HopStatus {
		dst = wireformat.AppendVarint(dst, hopFieldStatus, uint64(m.Status))
	}
	return dst
}

// UnmarshalHopMessage decodes a HopMessage, rejecting fields over maxFieldSize.
func UnmarshalHopMessage(buf []byte, maxFieldSize int) (*HopMessage, error) {
	fields, err := wireformat.ParseFields(buf, maxFieldSize)
	if err != nil {
		return nil, err
	}
	m := &HopMessage{}
	for _, f := range fields {
		switch f.Num {
		case hopFieldType:
			m.Type = HopType(f.Varint)
		case hopFieldPeer:
			m.Peer = f.Bytes
		case hopFieldReservation:
			r, err := unmarshalReservation(f.Bytes)
			if err != nil {
				return nil, err
			}
			m.Reservation = r
		case hopFieldLimit:
			l, err := unmarshalLimit(f.Bytes)
			if err != nil {
				return nil, err
			}
			m.Limit = l
		case hopFieldStatus:
			m.Status = Status(f.Varint)
		}
	}
	return m, nil
}

// Marshal encodes a StopMessage.
func (m *StopMessage) Marshal() []byte {
	dst := wireformat.AppendVarint(nil, stopFieldType, uint64(m.Type))
	if m.Peer != nil {
		dst = wireformat.AppendBytes(dst, stopFieldPeer, m.Peer)
	}
	if m.Limit != nil {
		dst = wireformat.AppendBytes(dst, stopFieldLimit, marshalLimit(m.Limit))
	}
	if m.Type == StopStatus {
		dst = wireformat.AppendVarint(dst, stopFieldStatus, uint64(m.Status))
	}
	return dst
}

// UnmarshalStopMessage decodes a StopMessage, rejecting fields over maxFieldSize.
func UnmarshalStopMessage(buf []byte, maxFieldSize int) (*StopMessage, error) {
	fields, err := wireformat.ParseFields(buf, maxFieldSize)
	if err != nil {
		return nil, err
	}
	m := &StopMessage{}
	for _, f := range fields {
		switch f.Num {
		case stopFieldType:
			m.Type = StopType(f.Varint)
		case stopFieldPeer:
			m.Peer = f.Bytes
		case stopFieldLimit:
			l, err := unmarshalLimit(f.Bytes)
			if err != nil {
				return nil, err
			}
			m.Limit = l
		case stopFieldStatus:
			m.Status = Status(f.Varint)
		}
	}
	return m, nil
}
