// Package varint implements unsigned LEB128 varint encoding, the wire
// primitive underlying mplex frame headers, GossipSub RPC length prefixes,
// and protobuf field tags.
package varint

import "github.com/p2pstack/corenet/internal/p2perr"

// MaxBytes is the longest an encoded varint may be before Decode gives up:
// 10 groups of 7 bits covers a full 64-bit value with six bits to spare.
const MaxBytes = 10

// Encode appends the LEB128 encoding of v to dst and returns the result.
func Encode(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Size returns the number of bytes Encode would produce for v.
func Size(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// Decode reads a varint from the front of buf. It returns the decoded
// value, the number of bytes consumed, and an error.
//
// Decode fails with KindVarintOverflow if a 10th byte still carries the
// continuation bit, and with KindProtobufTruncated (insufficient data) if
// buf runs out before a terminating byte is seen.
func Decode(buf []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < MaxBytes; i++ {
		if i >= len(buf) {
			return 0, 0, p2perr.New(p2perr.KindProtobufTruncated, "varint: insufficient data")
		}
		b := buf[i]
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	// The loop consumed MaxBytes bytes without seeing a terminator.
	return 0, 0, p2perr.New(p2perr.KindVarintOverflow, "varint: overflow past 10 bytes")
}

// ToInt converts a decoded unsigned value into a host int, failing if it
// would not fit.
func ToInt(v uint64) (int, error) {
	const maxInt = int(^uint(0) >> 1)
	if v > uint64(maxInt) {
		return 0, p2perr.New(p2perr.KindVarintOverflow, "varint: value exceeds int max")
	}
	return int(v), nil
}
