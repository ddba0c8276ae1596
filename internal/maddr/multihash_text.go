package maddr

import "github.com/p2pstack/corenet/internal/base58"

// decodeMultihashText / encodeMultihashText handle the p2p and certhash
// protocols' text-form value, which is a base58btc rendering of the raw
// multihash bytes carried in the component's binary value.
func decodeMultihashText(s string) ([]byte, error) {
	return base58.Decode(s)
}

func encodeMultihashText(v []byte) string {
	return base58.Encode(v)
}
