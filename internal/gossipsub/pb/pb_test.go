package pb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		From:      []byte("peer-a"),
		Data:      []byte("hello world"),
		Seqno:     []byte{0, 0, 0, 0, 0, 0, 0, 1},
		Topic:     "chat",
		Signature: []byte("sig"),
		Key:       []byte("key"),
	}
	out, err := UnmarshalMessage(m.Marshal())
	require.NoError(t, err)
	require.Equal(t, m.From, out.From)
	require.Equal(t, m.Data, out.Data)
	require.Equal(t, m.Seqno, out.Seqno)
	require.Equal(t, m.Topic, out.Topic)
	require.Equal(t, m.Signature, out.Signature)
	require.Equal(t, m.Key, out.Key)
}

func TestMessageMissingTopicIsRejected(t *testing.T) {
	m := &Message{Data: []byte("x")}
	_, err := UnmarshalMessage(m.Marshal())
	require.Error(t, err)
}

func TestMarshalWithoutSignatureOmitsSignatureAndKey(t *testing.T) {
	m := &Message{Topic: "t", Data: []byte("d"), Signature: []byte("sig"), Key: []byte("key")}
	preimage := m.MarshalWithoutSignature()

	out, err := UnmarshalMessage(preimage)
	require.NoError(t, err)
	require.Nil(t, out.Signature)
	require.Nil(t, out.Key)
	require.Equal(t, "t", out.Topic)
}

func TestRPCRoundTrip(t *testing.T) {
	rpc := &RPC{
		Subscriptions: []SubOpts{
			{Subscribe: true, Topic: "a"},
			{Subscribe: false, Topic: "b"},
		},
		Publish: []*Message{
			{Topic: "a", Data: []byte("1")},
			{Topic: "b", Data: []byte("2")},
		},
		Control: &ControlMessage{
			IHave: []ControlIHave{{Topic: "a", MessageIDs: []string{"m1", "m2"}}},
			IWant: []ControlIWant{{MessageIDs: []string{"m1"}}},
			Graft: []ControlGraft{{Topic: "a"}},
			Prune: []ControlPrune{{Topic: "a", Peers: [][]byte{[]byte("p1")}, BackoffSec: 60}},
			IDontWant: []ControlIDontWant{{MessageIDs: []string{"m3"}}},
		},
	}

	out, err := UnmarshalRPC(rpc.Marshal(), 0)
	require.NoError(t, err)

	require.Len(t, out.Subscriptions, 2)
	require.Equal(t, "a", out.Subscriptions[0].Topic)
	require.True(t, out.Subscriptions[0].Subscribe)
	require.False(t, out.Subscriptions[1].Subscribe)

	require.Len(t, out.Publish, 2)
	require.Equal(t, "a", out.Publish[0].Topic)

	require.NotNil(t, out.Control)
	require.Len(t, out.Control.IHave, 1)
	require.Equal(t, []string{"m1", "m2"}, out.Control.IHave[0].MessageIDs)
	require.Len(t, out.Control.IWant, 1)
	require.Equal(t, []string{"m1"}, out.Control.IWant[0].MessageIDs)
	require.Len(t, out.Control.Graft, 1)
	require.Equal(t, "a", out.Control.Graft[0].Topic)
	require.Len(t, out.Control.Prune, 1)
	require.Equal(t, uint64(60), out.Control.Prune[0].BackoffSec)
	require.Equal(t, [][]byte{[]byte("p1")}, out.Control.Prune[0].Peers)
	require.Len(t, out.Control.IDontWant, 1)
	require.Equal(t, []string{"m3"}, out.Control.IDontWant[0].MessageIDs)
}

func TestRPCWithoutControlLeavesItNil(t *testing.T) {
	rpc := &RPC{Subscriptions: []SubOpts{{Subscribe: true, Topic: "x"}}}
	out, err := UnmarshalRPC(rpc.Marshal(), 0)
	require.NoError(t, err)
	require.Nil(t, out.Control)
}

func TestUnmarshalRPCRejectsOversizedField(t *testing.T) {
	m := &Message{Topic: "t", Data: make([]byte, 1024)}
	rpc := &RPC{Publish: []*Message{m}}
	_, err := UnmarshalRPC(rpc.Marshal(), 16)
	require.Error(t, err)
}
