package wireformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendParseRoundTrip(t *testing.T) {
	var buf []byte
	buf = AppendString(buf, 4, "topic")
	buf = AppendBool(buf, 1, true)
	buf = AppendBytes(buf, 2, []byte("payload"))

	fields, err := ParseFields(buf, 0)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	require.Equal(t, "topic", string(fields[0].Bytes))
	require.Equal(t, uint64(1), fields[1].Varint)
	require.Equal(t, "payload", string(fields[2].Bytes))
}

func TestParseFieldsRejectsTruncated(t *testing.T) {
	buf := AppendBytes(nil, 1, []byte("hello"))
	_, err := ParseFields(buf[:len(buf)-2], 0)
	require.Error(t, err)
}

func TestParseFieldsMaxSize(t *testing.T) {
	buf := AppendBytes(nil, 1, make([]byte, 100))
	_, err := ParseFields(buf, 10)
	require.Error(t, err)
}

type fakeSigner struct {
	pub []byte
	sig []byte
}

func (f fakeSigner) Sign(msg []byte) ([]byte, error) { return f.sig, nil }
func (f fakeSigner) PublicKeyBytes() []byte          { return f.pub }

type fakeVerifier struct {
	want []byte
}

func (v fakeVerifier) Verify(sig, msg []byte) bool {
	if string(sig) != string(v.want) {
		return false
	}
	return true
}

func TestEnvelopeRoundTrip(t *testing.T) {
	signer := fakeSigner{pub: []byte("pubkey"), sig: []byte("sig-bytes")}
	env, err := Seal(signer, "test-domain", []byte("type"), []byte("payload"))
	require.NoError(t, err)

	buf := env.Marshal()
	decoded, err := UnmarshalEnvelope(buf)
	require.NoError(t, err)
	require.Equal(t, env.PublicKey, decoded.PublicKey)
	require.Equal(t, env.Payload, decoded.Payload)

	require.True(t, decoded.VerifyDomain(fakeVerifier{want: []byte("sig-bytes")}, "test-domain"))
}

func TestEnvelopeRejectsOversizedPublicKey(t *testing.T) {
	var buf []byte
	buf = AppendBytes(buf, fieldPublicKey, make([]byte, 5000))
	buf = AppendBytes(buf, fieldPayloadType, []byte("t"))
	buf = AppendBytes(buf, fieldPayload, []byte("p"))
	buf = AppendBytes(buf, fieldSignature, []byte("s"))

	_, err := UnmarshalEnvelope(buf)
	require.Error(t, err)
}

func TestEnvelopeRejectsNonBytesField(t *testing.T) {
	buf := AppendVarint(nil, fieldPublicKey, 5)
	_, err := UnmarshalEnvelope(buf)
	require.Error(t, err)
}
