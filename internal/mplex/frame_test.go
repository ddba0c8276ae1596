package mplex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	// header = (100<<3)|FlagMessageInitiator = 802, LEB128 = 0xA2 0x06
	buf := EncodeFrame(nil, 100, FlagMessageInitiator, []byte("test"))
	require.Equal(t, []byte{0xA2, 0x06, 0x04, 't', 'e', 's', 't'}, buf)

	frame, consumed, ok, err := DecodeFrame(buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, len(buf), consumed)
	require.Equal(t, uint64(100), frame.StreamID)
	require.Equal(t, FlagMessageInitiator, frame.Flag)
	require.Equal(t, []byte("test"), frame.Payload)
}

func TestDecodeFrameIncompleteReturnsNotOK(t *testing.T) {
	buf := EncodeFrame(nil, 1, FlagNewStream, []byte("hello"))
	_, _, ok, err := DecodeFrame(buf[:len(buf)-2], DefaultMaxFrameSize)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDecodeFrameTooLarge(t *testing.T) {
	buf := EncodeFrame(nil, 1, FlagMessageInitiator, make([]byte, 100))
	_, _, _, err := DecodeFrame(buf, 10)
	require.Error(t, err)
}

func TestDecodeFrameMultipleInBuffer(t *testing.T) {
	var buf []byte
	buf = EncodeFrame(buf, 0, FlagNewStream, nil)
	buf = EncodeFrame(buf, 0, FlagMessageInitiator, []byte("a"))

	f1, n1, ok, err := DecodeFrame(buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, FlagNewStream, f1.Flag)

	f2, n2, ok, err := DecodeFrame(buf[n1:], DefaultMaxFrameSize)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, FlagMessageInitiator, f2.Flag)
	require.Equal(t, []byte("a"), f2.Payload)
	require.Equal(t, len(buf), n1+n2)
}
