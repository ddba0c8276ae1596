package main

import (
	"context"

	"github.com/p2pstack/corenet/internal/mplex"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/varint"
)

// Every outbound stream opens by writing its protocol id as a single
// varint-length-prefixed UTF-8 string, mirroring the length-prefixing
// convention internal/security's handshake Framer and internal/relay's
// Hop/Stop framing already use. The accepting side reads that tag first
// to decide which handler (gossipsub RPC, relay Hop, relay Stop) owns
// the rest of the stream.
const maxProtocolIDLen = 256

func writeProtocolID(ctx context.Context, s *mplex.MplexStream, protocolID string) error {
	payload := []byte(protocolID)
	framed := varint.Encode(nil, uint64(len(payload)))
	framed = append(framed, payload...)
	return s.Write(ctx, framed)
}

func readProtocolID(ctx context.Context, s *mplex.MplexStream) (string, error) {
	var buf []byte
	for {
		if len(buf) > 0 {
			n, consumed, err := varint.Decode(buf)
			if err == nil {
				if int(n) > maxProtocolIDLen {
					return "", p2perr.New(p2perr.KindMalformedMessage, "protocol: id tag too large")
				}
				for len(buf) < consumed+int(n) {
					chunk, err := s.Read(ctx)
					if err != nil {
						return "", err
					}
					buf = append(buf, chunk...)
				}
				return string(buf[consumed : consumed+int(n)]), nil
			}
			if kind, ok := p2perr.Of(err); !ok || kind != p2perr.KindProtobufTruncated {
				return "", err
			}
		}
		chunk, err := s.Read(ctx)
		if err != nil {
			return "", err
		}
		buf = append(buf, chunk...)
	}
}
