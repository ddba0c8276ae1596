package maddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextBinaryRoundTrip(t *testing.T) {
	texts := []string{
		"/ip4/1.2.3.4/tcp/4001",
		"/ip4/127.0.0.1/tcp/4001",
		"/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N",
	}
	for _, text := range texts {
		m, err := NewMultiaddr(text)
		require.NoError(t, err, text)

		bin := m.Bytes()
		decoded, err := Decode(bin)
		require.NoError(t, err, text)
		require.Equal(t, text, decoded.String())
	}
}

func TestKnownVector(t *testing.T) {
	m, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x7F, 0x00, 0x00, 0x01, 0x06, 0x0F, 0xA1}, m.Bytes())

	decoded, err := Decode(m.Bytes())
	require.NoError(t, err)
	require.Equal(t, "/ip4/127.0.0.1/tcp/4001", decoded.String())
}

func TestCircuitAddress(t *testing.T) {
	text := "/ip4/1.2.3.4/tcp/4001/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N/p2p-circuit/p2p/QmZyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"
	m, err := NewMultiaddr(text)
	require.NoError(t, err)
	require.True(t, m.HasProtocol(P_P2P_CIRCUIT))
	require.Equal(t, text, m.String())
}

func TestRejectsOversizedInput(t *testing.T) {
	big := make([]byte, 0, 2000)
	s := "/ip4/1.2.3.4"
	for len(big) < 2000 {
		big = append(big, s...)
	}
	_, err := NewMultiaddr(string(big))
	require.Error(t, err)
}

func TestRejectsTooManyComponents(t *testing.T) {
	s := ""
	for i := 0; i < 25; i++ {
		s += "/tcp/1"
	}
	_, err := NewMultiaddr(s)
	require.Error(t, err)
}

func TestEncapsulate(t *testing.T) {
	base, _ := NewMultiaddr("/ip4/1.2.3.4/tcp/4001")
	suffix, _ := NewMultiaddr("/p2p-circuit")
	full := base.Encapsulate(suffix)
	require.Equal(t, "/ip4/1.2.3.4/tcp/4001/p2p-circuit", full.String())
}

func TestUnknownProtocolRejected(t *testing.T) {
	_, err := NewMultiaddr("/notaproto/value")
	require.Error(t, err)
}
