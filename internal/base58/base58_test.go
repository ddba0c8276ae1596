package base58

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0},
		{0, 0, 1},
		{1, 2, 3, 4, 5},
		[]byte("hello world"),
	}
	for _, c := range cases {
		enc := Encode(c)
		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, c, dec)
	}
}

func TestKnownVector(t *testing.T) {
	// Standard Bitcoin base58 test vector.
	require.Equal(t, "2NEpo7TZRRrLZSi2U", Encode([]byte("Hello World!")))
}

func TestInvalidChar(t *testing.T) {
	_, err := Decode("0OIl")
	require.Error(t, err)
}
