// Package wireformat is a hand-rolled, minimal protobuf-compatible wire
// codec. It supports exactly the two wire types this repository's wire
// protocols use — varint (0) and length-delimited (2) — and nothing
// else: no fixed32/fixed64, no groups, no generated-code machinery.
// This is deliberate: any other wire type on the field we parse is
// rejected outright, rather than silently accepted and ignored.
package wireformat

import (
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/varint"
)

const (
	WireVarint = 0
	WireBytes  = 2
)

// Field is one decoded (field-number, wire-type, value) triple. For
// WireVarint, Varint holds the value. For WireBytes, Bytes holds the
// length-delimited payload.
type Field struct {
	Num      int
	WireType int
	Varint   uint64
	Bytes    []byte
}

// AppendVarint appends a varint-typed field (tag + value) to dst.
func AppendVarint(dst []byte, num int, v uint64) []byte {
	tag := (uint64(num) << 3) | WireVarint
	dst = varint.Encode(dst, tag)
	dst = varint.Encode(dst, v)
	return dst
}

// AppendBool appends a varint-typed boolean field.
func AppendBool(dst []byte, num int, v bool) []byte {
	if v {
		return AppendVarint(dst, num, 1)
	}
	return AppendVarint(dst, num, 0)
}

// AppendBytes appends a length-delimited field (tag + length + bytes).
func AppendBytes(dst []byte, num int, v []byte) []byte {
	tag := (uint64(num) << 3) | WireBytes
	dst = varint.Encode(dst, tag)
	dst = varint.Encode(dst, uint64(len(v)))
	dst = append(dst, v...)
	return dst
}

// AppendString appends a length-delimited field carrying UTF-8 text.
func AppendString(dst []byte, num int, v string) []byte {
	return AppendBytes(dst, num, []byte(v))
}

// ParseFields decodes every (tag, value) pair in buf in order. A field
// whose length-delimited payload exceeds maxFieldSize (0 = unbounded)
// fails with KindMessageTooLarge. Any wire type other than varint or
// length-delimited fails with KindInvalidWireType. A tag or payload that
// runs past the end of buf fails with KindProtobufTruncated.
func ParseFields(buf []byte, maxFieldSize int) ([]Field, error) {
	var fields []Field
	for len(buf) > 0 {
		tag, n, err := varint.Decode(buf)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindProtobufTruncated, "wireformat: tag", err)
		}
		buf = buf[n:]

		num, err := varint.ToInt(tag >> 3)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindProtobufTruncated, "wireformat: field number", err)
		}
		wt := int(tag & 0x7)

		switch wt {
		case WireVarint:
			v, n, err := varint.Decode(buf)
			if err != nil {
				return nil, p2perr.Wrap(p2perr.KindProtobufTruncated, "wireformat: varint value", err)
			}
			buf = buf[n:]
			fields = append(fields, Field{Num: num, WireType: WireVarint, Varint: v})

		case WireBytes:
			l, n, err := varint.Decode(buf)
			if err != nil {
				return nil, p2perr.Wrap(p2perr.KindProtobufTruncated, "wireformat: length", err)
			}
			buf = buf[n:]
			length, err := varint.ToInt(l)
			if err != nil {
				return nil, p2perr.Wrap(p2perr.KindProtobufTruncated, "wireformat: length", err)
			}
			if maxFieldSize > 0 && length > maxFieldSize {
				return nil, p2perr.New(p2perr.KindMessageTooLarge, "wireformat: field exceeds max size")
			}
			if length > len(buf) {
				return nil, p2perr.New(p2perr.KindProtobufTruncated, "wireformat: truncated field")
			}
			val := make([]byte, length)
			copy(val, buf[:length])
			buf = buf[length:]
			fields = append(fields, Field{Num: num, WireType: WireBytes, Bytes: val})

		default:
			return nil, p2perr.New(p2perr.KindInvalidWireType, "wireformat: unsupported wire type")
		}
	}
	return fields, nil
}

// RequireBytesOnly is used by strict consumers (the signed-envelope and
// Plaintext handshake codecs) that must reject any varint-typed field —
// their schemas are bytes/string only.
func RequireBytesOnly(fields []Field) error {
	for _, f := range fields {
		if f.WireType != WireBytes {
			return p2perr.New(p2perr.KindInvalidWireType, "wireformat: expected length-delimited field only")
		}
	}
	return nil
}
