// Package mplex implements the mplex-family stream multiplexer: a frame
// codec, independent per-side stream-id allocation, and per-stream
// half-close state machines layered over a single securedconn.Conn.
package mplex

import (
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/varint"
)

// Flag is the low 3 bits of a frame header identifying the frame's
// purpose and, for non-NewStream frames, which side opened the stream it
// concerns.
type Flag uint8

const (
	FlagNewStream        Flag = 0
	FlagMessageReceiver   Flag = 1
	FlagMessageInitiator  Flag = 2
	FlagCloseReceiver     Flag = 3
	FlagCloseInitiator    Flag = 4
	FlagResetReceiver     Flag = 5
	FlagResetInitiator    Flag = 6
)

// DefaultMaxFrameSize is the default cap on a single frame's payload
const DefaultMaxFrameSize = 1 << 20

// DefaultMaxBufferedPerStream is the default cap on unread bytes buffered
// for one stream before the reader resets it.
const DefaultMaxBufferedPerStream = 1 << 20

// Frame is one decoded mplex frame.
type Frame struct {
	StreamID uint64
	Flag     Flag
	Payload  []byte
}

// encodeHeader packs a stream id and flag into the single header varint:
// header = (stream_id << 3) | flag.
func encodeHeader(streamID uint64, flag Flag) uint64 {
	return streamID<<3 | uint64(flag)
}

func decodeHeader(h uint64) (streamID uint64, flag Flag) {
	return h >> 3, Flag(h & 0x7)
}

// EncodeFrame appends the wire encoding of a frame to dst.
func EncodeFrame(dst []byte, streamID uint64, flag Flag, payload []byte) []byte {
	dst = varint.Encode(dst, encodeHeader(streamID, flag))
	dst = varint.Encode(dst, uint64(len(payload)))
	dst = append(dst, payload...)
	return dst
}

// needMoreData reports whether err is the varint decoder's
// insufficient-data case, meaning the caller should read more bytes and
// retry rather than treat this as a hard framing error.
func needMoreData(err error) bool {
	kind, ok := p2perr.Of(err)
	return ok && kind == p2perr.KindProtobufTruncated
}

// DecodeFrame attempts to decode one frame from the front of buf. It
// returns the frame, the number of bytes consumed, and ok=false (no
// error) when buf doesn't yet hold a complete frame. maxFrameSize bounds
// the payload length field; a payload claiming to exceed it is a hard
// framing error.
func DecodeFrame(buf []byte, maxFrameSize int) (frame Frame, consumed int, ok bool, err error) {
	header, n1, err := varint.Decode(buf)
	if err != nil {
		if needMoreData(err) {
			return Frame{}, 0, false, nil
		}
		return Frame{}, 0, false, err
	}
	length, n2, err := varint.Decode(buf[n1:])
	if err != nil {
		if needMoreData(err) {
			return Frame{}, 0, false, nil
		}
		return Frame{}, 0, false, err
	}
	payloadLen, err := varint.ToInt(length)
	if err != nil {
		return Frame{}, 0, false, err
	}
	if maxFrameSize > 0 && payloadLen > maxFrameSize {
		return Frame{}, 0, false, p2perr.New(p2perr.KindFrameTooLarge, "mplex: frame payload exceeds max_frame_size")
	}
	total := n1 + n2 + payloadLen
	if len(buf) < total {
		return Frame{}, 0, false, nil
	}
	streamID, flag := decodeHeader(header)
	payload := append([]byte(nil), buf[n1+n2:total]...)
	return Frame{StreamID: streamID, Flag: flag, Payload: payload}, total, true, nil
}
