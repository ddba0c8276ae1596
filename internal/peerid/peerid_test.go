package peerid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesStringRoundTrip(t *testing.T) {
	id := FromPublicKey([]byte("a-32-byte-ed25519-public-key!!!!"))
	s := id.String()
	decoded, err := Decode(s)
	require.NoError(t, err)
	require.Equal(t, id.Bytes(), decoded.Bytes())
	require.True(t, id.Equal(decoded))
}

func TestIdentityVsSHA256(t *testing.T) {
	small := FromPublicKey(make([]byte, 32)) // Ed25519-sized -> identity hash
	key, ok := small.EmbeddedIdentityKey()
	require.True(t, ok)
	require.Len(t, key, 32)

	big := FromPublicKey(make([]byte, 128)) // too big -> SHA-256 hash
	_, ok = big.EmbeddedIdentityKey()
	require.False(t, ok)
}

func TestMatchesPublicKey(t *testing.T) {
	key := []byte("another-32-byte-ed25519-key!!!!!")
	id := FromPublicKey(key)
	require.True(t, id.MatchesPublicKey(key))
	require.False(t, id.MatchesPublicKey([]byte("different-key-bytes-32-long!!!!")))
}

func TestCompareStrictTotalOrder(t *testing.T) {
	a := FromBytes([]byte{0x01})
	b := FromBytes([]byte{0x02})
	require.Negative(t, Compare(a, b))
	require.Positive(t, Compare(b, a))
	require.Zero(t, Compare(a, a))
}

func TestEqualityIsByteWise(t *testing.T) {
	a := FromPublicKey([]byte("key-one-32-bytes-padded-xxxxxxxx"))
	b := FromPublicKey([]byte("key-two-32-bytes-padded-xxxxxxxx"))
	require.False(t, a.Equal(b))
}
