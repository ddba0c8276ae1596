package varint

import (
	"testing"

	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, 1 << 35, ^uint64(0)}
	for _, v := range values {
		enc := Encode(nil, v)
		got, n, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestMplexFrameHeaderExample(t *testing.T) {
	// header varint for (100<<3)|2 = 802 -> 0xA2 0x06
	header := (uint64(100) << 3) | 2
	enc := Encode(nil, header)
	require.Equal(t, []byte{0xA2, 0x06}, enc)

	length := Encode(nil, 4)
	require.Equal(t, []byte{0x04}, length)
}

func TestDecodeInsufficientData(t *testing.T) {
	_, _, err := Decode([]byte{0x80, 0x80})
	require.Error(t, err)
	kind, ok := p2perr.Of(err)
	require.True(t, ok)
	require.Equal(t, p2perr.KindProtobufTruncated, kind)
}

func TestDecodeOverflow(t *testing.T) {
	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = 0x80
	}
	_, _, err := Decode(buf)
	require.Error(t, err)
	kind, ok := p2perr.Of(err)
	require.True(t, ok)
	require.Equal(t, p2perr.KindVarintOverflow, kind)
}

func TestToInt(t *testing.T) {
	v, err := ToInt(42)
	require.NoError(t, err)
	require.Equal(t, 42, v)

	_, err = ToInt(^uint64(0))
	require.Error(t, err)
}

func TestSize(t *testing.T) {
	require.Equal(t, 1, Size(127))
	require.Equal(t, 2, Size(128))
	require.Equal(t, len(Encode(nil, 1<<20)), Size(1<<20))
}
