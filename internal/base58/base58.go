// Package base58 implements Bitcoin-alphabet base58, used to render a
// PeerID in its human-readable text form.
package base58

import "math/big"

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var (
	bigRadix = big.NewInt(58)
	bigZero  = big.NewInt(0)
	decodeTable [256]int8
)

func init() {
	for i := range decodeTable {
		decodeTable[i] = -1
	}
	for i, c := range alphabet {
		decodeTable[byte(c)] = int8(i)
	}
}

// Encode returns the base58 text form of b. Each leading zero byte maps
// to a leading '1' character.
func Encode(b []byte) string {
	x := new(big.Int).SetBytes(b)

	var out []byte
	mod := new(big.Int)
	for x.Cmp(bigZero) > 0 {
		x.DivMod(x, bigRadix, mod)
		out = append(out, alphabet[mod.Int64()])
	}
	// reverse
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	// Leading zero bytes become leading '1' characters.
	for _, c := range b {
		if c != 0 {
			break
		}
		out = append([]byte{alphabet[0]}, out...)
	}
	return string(out)
}

// Decode parses the base58 text form back into bytes, reversing Encode
// including its leading-zero handling.
func Decode(s string) ([]byte, error) {
	x := big.NewInt(0)
	for i := 0; i < len(s); i++ {
		d := decodeTable[s[i]]
		if d < 0 {
			return nil, errInvalidChar(s[i])
		}
		x.Mul(x, bigRadix)
		x.Add(x, big.NewInt(int64(d)))
	}

	decoded := x.Bytes()

	// Leading '1' characters map back to leading zero bytes.
	var leadingZeros int
	for i := 0; i < len(s) && s[i] == alphabet[0]; i++ {
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}

type errInvalidChar byte

func (e errInvalidChar) Error() string {
	return "base58: invalid character " + string(rune(e))
}
