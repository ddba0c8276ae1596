package identity

// VerifyAny verifies sig over msg against a raw public key whose type is
// inferred from its length: 32 bytes is Ed25519, 33 bytes is compressed
// secp256k1. Used when the signer is recovered from wire bytes (a
// Message's `key` field or a PeerID's embedded identity-hash key)
// instead of a live KeyPair.
func VerifyAny(pubKey, sig, msg []byte) bool {
	switch len(pubKey) {
	case 32:
		return VerifyEd25519(pubKey, sig, msg)
	case 33:
		return VerifySecp256k1(pubKey, sig, msg)
	default:
		return false
	}
}
