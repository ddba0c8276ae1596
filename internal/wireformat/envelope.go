package wireformat

import (
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/varint"
)

// maxPublicKeyBytes bounds Envelope.PublicKey on unmarshal.
const maxPublicKeyBytes = 4096

// Signer is the minimal capability Envelope sealing needs from a KeyPair —
// kept here so wireformat does not import internal/identity; the security
// upgraders pass their identity.KeyPair in through a small adapter.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKeyBytes() []byte
}

// Verifier is the minimal capability Envelope verification needs.
type Verifier interface {
	Verify(sig, msg []byte) bool
}

// Envelope is a signed, typed record: a public key, a payload type tag,
// an opaque payload, and a signature over both plus a domain separator
type Envelope struct {
	PublicKey   []byte
	PayloadType []byte
	Payload     []byte
	Signature   []byte
}

// signingPreimage builds domain || len(payload_type) || payload_type ||
// len(payload) || payload, with lengths as varints.
func signingPreimage(domain string, payloadType, payload []byte) []byte {
	buf := make([]byte, 0, len(domain)+len(payloadType)+len(payload)+20)
	buf = append(buf, domain...)
	buf = varint.Encode(buf, uint64(len(payloadType)))
	buf = append(buf, payloadType...)
	buf = varint.Encode(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// Seal signs payload under domain with signer and returns the Envelope.
func Seal(signer Signer, domain string, payloadType, payload []byte) (*Envelope, error) {
	sig, err := signer.Sign(signingPreimage(domain, payloadType, payload))
	if err != nil {
		return nil, err
	}
	return &Envelope{
		PublicKey:   signer.PublicKeyBytes(),
		PayloadType: payloadType,
		Payload:     payload,
		Signature:   sig,
	}, nil
}

// VerifyDomain recomputes the signing preimage under domain and checks it
// against e.Signature using verifier.
func (e *Envelope) VerifyDomain(verifier Verifier, domain string) bool {
	preimage := signingPreimage(domain, e.PayloadType, e.Payload)
	return verifier.Verify(e.Signature, preimage)
}

const (
	fieldPublicKey   = 1
	fieldPayloadType = 2
	fieldPayload     = 3
	fieldSignature   = 4
)

// Marshal encodes the Envelope using the length-delimited-only codec.
func (e *Envelope) Marshal() []byte {
	var buf []byte
	buf = AppendBytes(buf, fieldPublicKey, e.PublicKey)
	buf = AppendBytes(buf, fieldPayloadType, e.PayloadType)
	buf = AppendBytes(buf, fieldPayload, e.Payload)
	buf = AppendBytes(buf, fieldSignature, e.Signature)
	return buf
}

// UnmarshalEnvelope decodes an Envelope, rejecting any field that isn't
// length-delimited and any public key over 4096 bytes.
func UnmarshalEnvelope(buf []byte) (*Envelope, error) {
	fields, err := ParseFields(buf, 0)
	if err != nil {
		return nil, err
	}
	if err := RequireBytesOnly(fields); err != nil {
		return nil, err
	}
	e := &Envelope{}
	for _, f := range fields {
		switch f.Num {
		case fieldPublicKey:
			if len(f.Bytes) > maxPublicKeyBytes {
				return nil, p2perr.New(p2perr.KindMessageTooLarge, "envelope: public key exceeds 4096 bytes")
			}
			e.PublicKey = f.Bytes
		case fieldPayloadType:
			e.PayloadType = f.Bytes
		case fieldPayload:
			e.Payload = f.Bytes
		case fieldSignature:
			e.Signature = f.Bytes
		}
	}
	return e, nil
}
