// Package pb holds the hand-written wire codecs for the GossipSub RPC
// family: subscription changes, published messages, and the control
// sub-messages (IHAVE/IWANT/GRAFT/PRUNE/IDONTWANT). Built on
// internal/wireformat's length-delimited-only codec rather than a
// generated-code protobuf library, since every field these messages use
// is itself length-delimited, a varint, or a bool.
package pb

import (
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/wireformat"
)

// SubOpts is one subscription-state change: subscribe or unsubscribe a
// topic.
type SubOpts struct {
	Subscribe bool
	Topic     string
}

const (
	subOptsFieldSubscribe = 1
	subOptsFieldTopic     = 2
)

func (s *SubOpts) marshal(dst []byte) []byte {
	dst = wireformat.AppendBool(dst, subOptsFieldSubscribe, s.Subscribe)
	dst = wireformat.AppendString(dst, subOptsFieldTopic, s.Topic)
	return dst
}

func unmarshalSubOpts(buf []byte) (SubOpts, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return SubOpts{}, err
	}
	var s SubOpts
	for _, f := range fields {
		switch f.Num {
		case subOptsFieldSubscribe:
			s.Subscribe = f.Varint != 0
		case subOptsFieldTopic:
			s.Topic = string(f.Bytes)
		}
	}
	return s, nil
}

// Message is one published GossipSub message.
type Message struct {
	From      []byte // peer id bytes of the originating peer ("source")
	Data      []byte
	Seqno     []byte // 8 bytes, big-endian, when authenticity requires it
	Topic     string
	Signature []byte
	Key       []byte // explicit public key, when the peer id doesn't embed one
}

const (
	msgFieldFrom      = 1
	msgFieldData      = 2
	msgFieldSeqno     = 3
	msgFieldTopic     = 4
	msgFieldSignature = 5
	msgFieldKey       = 6
)

// MarshalWithoutSignature encodes every field except signature and key —
// the pre-image a publisher signs and a receiver verifies against.
func (m *Message) MarshalWithoutSignature() []byte {
	var dst []byte
	if m.From != nil {
		dst = wireformat.AppendBytes(dst, msgFieldFrom, m.From)
	}
	if m.Data != nil {
		dst = wireformat.AppendBytes(dst, msgFieldData, m.Data)
	}
	if m.Seqno != nil {
		dst = wireformat.AppendBytes(dst, msgFieldSeqno, m.Seqno)
	}
	dst = wireformat.AppendString(dst, msgFieldTopic, m.Topic)
	return dst
}

func (m *Message) Marshal() []byte {
	dst := m.MarshalWithoutSignature()
	if m.Signature != nil {
		dst = wireformat.AppendBytes(dst, msgFieldSignature, m.Signature)
	}
	if m.Key != nil {
		dst = wireformat.AppendBytes(dst, msgFieldKey, m.Key)
	}
	return dst
}

func UnmarshalMessage(buf []byte) (*Message, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	haveTopic := false
	for _, f := range fields {
		switch f.Num {
		case msgFieldFrom:
			m.From = f.Bytes
		case msgFieldData:
			m.Data = f.Bytes
		case msgFieldSeqno:
			m.Seqno = f.Bytes
		case msgFieldTopic:
			m.Topic = string(f.Bytes)
			haveTopic = true
		case msgFieldSignature:
			m.Signature = f.Bytes
		case msgFieldKey:
			m.Key = f.Bytes
		}
	}
	if !haveTopic || m.Topic == "" {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "pb: message missing required topic")
	}
	return m, nil
}

// ControlIHave advertises message ids available on a topic.
type ControlIHave struct {
	Topic      string
	MessageIDs []string
}

// ControlIWant requests specific message ids by id.
type ControlIWant struct {
	MessageIDs []string
}

// ControlGraft requests the peer add us to a topic mesh.
type ControlGraft struct {
	Topic string
}

// ControlPrune removes us from a topic mesh, optionally with peer-exchange
// suggestions and a backoff duration in seconds.
type ControlPrune struct {
	Topic      string
	Peers      [][]byte
	BackoffSec uint64
}

// ControlIDontWant proactively signals the peer already has these ids.
type ControlIDontWant struct {
	MessageIDs []string
}

// ControlMessage bundles every control sub-message kind present in one
// RPC.
type ControlMessage struct {
	IHave     []ControlIHave
	IWant     []ControlIWant
	Graft     []ControlGraft
	Prune     []ControlPrune
	IDontWant []ControlIDontWant
}

const (
	ctrlFieldIHave     = 1
	ctrlFieldIWant     = 2
	ctrlFieldGraft     = 3
	ctrlFieldPrune     = 4
	ctrlFieldIDontWant = 5

	ihaveFieldTopic = 1
	ihaveFieldIDs   = 2

	iwantFieldIDs = 1

	graftFieldTopic = 1

	pruneFieldTopic   = 1
	pruneFieldPeers   = 2
	pruneFieldBackoff = 3

	idontwantFieldIDs = 1
)

func marshalIHave(c ControlIHave) []byte {
	dst := wireformat.AppendString(nil, ihaveFieldTopic, c.Topic)
	for _, id := range c.MessageIDs {
		dst = wireformat.AppendString(dst, ihaveFieldIDs, id)
	}
	return dst
}

func unmarshalIHave(buf []byte) (ControlIHave, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return ControlIHave{}, err
	}
	var c ControlIHave
	for _, f := range fields {
		switch f.Num {
		case ihaveFieldTopic:
			c.Topic = string(f.Bytes)
		case ihaveFieldIDs:
			c.MessageIDs = append(c.MessageIDs, string(f.Bytes))
		}
	}
	return c, nil
}

func marshalIWant(c ControlIWant) []byte {
	var dst []byte
	for _, id := range c.MessageIDs {
		dst = wireformat.AppendString(dst, iwantFieldIDs, id)
	}
	return dst
}

func unmarshalIWant(buf []byte) (ControlIWant, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return ControlIWant{}, err
	}
	var c ControlIWant
	for _, f := range fields {
		if f.Num == iwantFieldIDs {
			c.MessageIDs = append(c.MessageIDs, string(f.Bytes))
		}
	}
	return c, nil
}

func marshalGraft(c ControlGraft) []byte {
	return wireformat.AppendString(nil, graftFieldTopic, c.Topic)
}

func unmarshalGraft(buf []byte) (ControlGraft, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return ControlGraft{}, err
	}
	var c ControlGraft
	for _, f := range fields {
		if f.Num == graftFieldTopic {
			c.Topic = string(f.Bytes)
		}
	}
	return c, nil
}

func marshalPrune(c ControlPrune) []byte {
	dst := wireformat.AppendString(nil, pruneFieldTopic, c.Topic)
	for _, p := range c.Peers {
		dst = wireformat.AppendBytes(dst, pruneFieldPeers, p)
	}
	if c.BackoffSec != 0 {
		dst = wireformat.AppendVarint(dst, pruneFieldBackoff, c.BackoffSec)
	}
	return dst
}

func unmarshalPrune(buf []byte) (ControlPrune, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return ControlPrune{}, err
	}
	var c ControlPrune
	for _, f := range fields {
		switch f.Num {
		case pruneFieldTopic:
			c.Topic = string(f.Bytes)
		case pruneFieldPeers:
			c.Peers = append(c.Peers, f.Bytes)
		case pruneFieldBackoff:
			c.BackoffSec = f.Varint
		}
	}
	return c, nil
}

func marshalIDontWant(c ControlIDontWant) []byte {
	var dst []byte
	for _, id := range c.MessageIDs {
		dst = wireformat.AppendString(dst, idontwantFieldIDs, id)
	}
	return dst
}

func unmarshalIDontWant(buf []byte) (ControlIDontWant, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return ControlIDontWant{}, err
	}
	var c ControlIDontWant
	for _, f := range fields {
		if f.Num == idontwantFieldIDs {
			c.MessageIDs = append(c.MessageIDs, string(f.Bytes))
		}
	}
	return c, nil
}

func (c *ControlMessage) Marshal() []byte {
	var dst []byte
	for _, x := range c.IHave {
		dst = wireformat.AppendBytes(dst, ctrlFieldIHave, marshalIHave(x))
	}
	for _, x := range c.IWant {
		dst = wireformat.AppendBytes(dst, ctrlFieldIWant, marshalIWant(x))
	}
	for _, x := range c.Graft {
		dst = wireformat.AppendBytes(dst, ctrlFieldGraft, marshalGraft(x))
	}
	for _, x := range c.Prune {
		dst = wireformat.AppendBytes(dst, ctrlFieldPrune, marshalPrune(x))
	}
	for _, x := range c.IDontWant {
		dst = wireformat.AppendBytes(dst, ctrlFieldIDontWant, marshalIDontWant(x))
	}
	return dst
}

func unmarshalControl(buf []byte) (*ControlMessage, error) {
	fields, err := wireformat.ParseFields(buf, 0)
	if err != nil {
		return nil, err
	}
	c := &ControlMessage{}
	for _, f := range fields {
		switch f.Num {
		case ctrlFieldIHave:
			v, err := unmarshalIHave(f.Bytes)
			if err != nil {
				return nil, err
			}
			c.IHave = append(c.IHave, v)
		case ctrlFieldIWant:
			v, err := unmarshalIWant(f.Bytes)
			if err != nil {
				return nil, err
			}
			c.IWant = append(c.IWant, v)
		case ctrlFieldGraft:
			v, err := unmarshalGraft(f.Bytes)
			if err != nil {
				return nil, err
			}
			c.Graft = append(c.Graft, v)
		case ctrlFieldPrune:
			v, err := unmarshalPrune(f.Bytes)
			if err != nil {
				return nil, err
			}
			c.Prune = append(c.Prune, v)
		case ctrlFieldIDontWant:
			v, err := unmarshalIDontWant(f.Bytes)
			if err != nil {
				return nil, err
			}
			c.IDontWant = append(c.IDontWant, v)
		}
	}
	return c, nil
}

// RPC is the top-level envelope carried over a GossipSub stream: zero or
// more subscription changes, zero or more published messages, and an
// optional control message.
type RPC struct {
	Subscriptions []SubOpts
	Publish       []*Message
	Control       *ControlMessage
}

const (
	rpcFieldSubscriptions = 1
	rpcFieldPublish       = 2
	rpcFieldControl       = 3
)

func (r *RPC) Marshal() []byte {
	var dst []byte
	for _, s := range r.Subscriptions {
		dst = wireformat.AppendBytes(dst, rpcFieldSubscriptions, s.marshal(nil))
	}
	for _, m := range r.Publish {
		dst = wireformat.AppendBytes(dst, rpcFieldPublish, m.Marshal())
	}
	if r.Control != nil {
		dst = wireformat.AppendBytes(dst, rpcFieldControl, r.Control.Marshal())
	}
	return dst
}

// UnmarshalRPC decodes an RPC, rejecting any field whose length-delimited
// payload exceeds maxFieldSize (0 = unbounded).
func UnmarshalRPC(buf []byte, maxFieldSize int) (*RPC, error) {
	fields, err := wireformat.ParseFields(buf, maxFieldSize)
	if err != nil {
		return nil, err
	}
	r := &RPC{}
	for _, f := range fields {
		switch f.Num {
		case rpcFieldSubscriptions:
			s, err := unmarshalSubOpts(f.Bytes)
			if err != nil {
				return nil, err
			}
			r.Subscriptions = append(r.Subscriptions, s)
		case rpcFieldPublish:
			m, err := UnmarshalMessage(f.Bytes)
			if err != nil {
				return nil, err
			}
			r.Publish = append(r.Publish, m)
		case rpcFieldControl:
			c, err := unmarshalControl(f.Bytes)
			if err != nil {
				return nil, err
			}
			r.Control = c
		}
	}
	return r, nil
}
