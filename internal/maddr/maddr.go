// Package maddr implements multiaddr parsing and encoding: an ordered
// sequence of self-describing protocol components.
package maddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/varint"
)

// Protocol codes, matching the multiformats multiaddr protocol table for
// the subset this repository speaks.
const (
	P_IP4          = 4
	P_TCP          = 6
	P_IP6          = 41
	P_QUIC_V1      = 461
	P_WEBTRANSPORT = 465
	P_CERTHASH     = 466
	P_UDP          = 273
	P_P2P_CIRCUIT  = 290
	P_P2P          = 421
)

// valueKind describes how a protocol's value is encoded on the wire.
type valueKind int

const (
	kindNone    valueKind = iota // no value (p2p-circuit, quic-v1, webtransport)
	kindFixed                    // fixed-size value (ip4, ip6, tcp, udp)
	kindVarlen                   // varint-length-prefixed value (p2p, certhash)
)

type protoInfo struct {
	name string
	code int
	kind valueKind
	size int // for kindFixed
}

var protosByName = map[string]protoInfo{}
var protosByCode = map[int]protoInfo{}

func register(p protoInfo) {
	protosByName[p.name] = p
	protosByCode[p.code] = p
}

func init() {
	register(protoInfo{name: "ip4", code: P_IP4, kind: kindFixed, size: 4})
	register(protoInfo{name: "ip6", code: P_IP6, kind: kindFixed, size: 16})
	register(protoInfo{name: "tcp", code: P_TCP, kind: kindFixed, size: 2})
	register(protoInfo{name: "udp", code: P_UDP, kind: kindFixed, size: 2})
	register(protoInfo{name: "quic-v1", code: P_QUIC_V1, kind: kindNone})
	register(protoInfo{name: "webtransport", code: P_WEBTRANSPORT, kind: kindNone})
	register(protoInfo{name: "p2p-circuit", code: P_P2P_CIRCUIT, kind: kindNone})
	register(protoInfo{name: "p2p", code: P_P2P, kind: kindVarlen})
	register(protoInfo{name: "certhash", code: P_CERTHASH, kind: kindVarlen})
}

const (
	maxInputBytes  = 1024
	maxComponents  = 20
)

// Component is one (protocol, value) pair of a multiaddr.
type Component struct {
	Code  int
	Value []byte
}

// Multiaddr is an ordered sequence of protocol components.
type Multiaddr struct {
	comps []Component
}

func protoName(code int) string {
	if p, ok := protosByCode[code]; ok {
		return p.name
	}
	return fmt.Sprintf("unknown(%d)", code)
}

// NewMultiaddr parses the canonical text form, e.g.
// "/ip4/1.2.3.4/tcp/4001".
func NewMultiaddr(s string) (*Multiaddr, error) {
	if len(s) > maxInputBytes {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: input exceeds 1024 bytes")
	}
	if s == "" {
		return &Multiaddr{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: must start with /")
	}
	parts := strings.Split(s, "/")[1:] // drop leading empty element

	var comps []Component
	i := 0
	for i < len(parts) {
		if len(comps) >= maxComponents {
			return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: too many components")
		}
		name := parts[i]
		i++
		p, ok := protosByName[name]
		if !ok {
			return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: unknown protocol "+name)
		}
		var valStr string
		switch p.kind {
		case kindNone:
			// no value token consumed
		default:
			if i >= len(parts) {
				return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: missing value for "+name)
			}
			valStr = parts[i]
			i++
		}
		val, err := textToValue(p, valStr)
		if err != nil {
			return nil, err
		}
		comps = append(comps, Component{Code: p.code, Value: val})
	}
	return &Multiaddr{comps: comps}, nil
}

func textToValue(p protoInfo, s string) ([]byte, error) {
	switch p.code {
	case P_IP4:
		ip := net.ParseIP(s).To4()
		if ip == nil {
			return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: invalid ip4 "+s)
		}
		return []byte(ip), nil
	case P_IP6:
		ip := net.ParseIP(s).To16()
		if ip == nil {
			return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: invalid ip6 "+s)
		}
		return []byte(ip), nil
	case P_TCP, P_UDP:
		port, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, p2perr.Wrap(p2perr.KindMalformedMessage, "maddr: invalid port", err)
		}
		return []byte{byte(port >> 8), byte(port)}, nil
	case P_QUIC_V1, P_WEBTRANSPORT, P_P2P_CIRCUIT:
		return nil, nil
	case P_P2P, P_CERTHASH:
		// Both carry multihash bytes; the text form is a base58btc peer-id-
		// shaped string for p2p, and a base58-encoded multihash for certhash.
		return decodeMultihashText(s)
	}
	return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: unhandled protocol")
}

func valueToText(code int, v []byte) (string, error) {
	switch code {
	case P_IP4:
		return net.IP(v).String(), nil
	case P_IP6:
		return net.IP(v).String(), nil
	case P_TCP, P_UDP:
		if len(v) != 2 {
			return "", p2perr.New(p2perr.KindMalformedMessage, "maddr: bad port value")
		}
		port := uint16(v[0])<<8 | uint16(v[1])
		return strconv.FormatUint(uint64(port), 10), nil
	case P_QUIC_V1, P_WEBTRANSPORT, P_P2P_CIRCUIT:
		return "", nil
	case P_P2P, P_CERTHASH:
		return encodeMultihashText(v), nil
	}
	return "", p2perr.New(p2perr.KindMalformedMessage, "maddr: unhandled protocol")
}

// String renders the canonical "/proto/value/.../proto" text form.
func (m *Multiaddr) String() string {
	var b strings.Builder
	for _, c := range m.comps {
		b.WriteByte('/')
		b.WriteString(protoName(c.Code))
		text, err := valueToText(c.Code, c.Value)
		if err == nil && text != "" {
			b.WriteByte('/')
			b.WriteString(text)
		}
	}
	return b.String()
}

// Bytes encodes the binary form: (varint-code, value-bytes)* with
// varint-length-prefixed values for variable-length protocols.
func (m *Multiaddr) Bytes() []byte {
	var buf []byte
	for _, c := range m.comps {
		buf = varint.Encode(buf, uint64(c.Code))
		p := protosByCode[c.Code]
		if p.kind == kindVarlen {
			buf = varint.Encode(buf, uint64(len(c.Value)))
		}
		buf = append(buf, c.Value...)
	}
	return buf
}

// Decode parses the binary form produced by Bytes.
func Decode(buf []byte) (*Multiaddr, error) {
	if len(buf) > maxInputBytes {
		return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: input exceeds 1024 bytes")
	}
	var comps []Component
	for len(buf) > 0 {
		if len(comps) >= maxComponents {
			return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: too many components")
		}
		code64, n, err := varint.Decode(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		code, err := varint.ToInt(code64)
		if err != nil {
			return nil, err
		}
		p, ok := protosByCode[code]
		if !ok {
			return nil, p2perr.New(p2perr.KindMalformedMessage, "maddr: unknown protocol code")
		}
		var val []byte
		switch p.kind {
		case kindNone:
		case kindFixed:
			if len(buf) < p.size {
				return nil, p2perr.New(p2perr.KindProtobufTruncated, "maddr: truncated fixed value")
			}
			val = append([]byte{}, buf[:p.size]...)
			buf = buf[p.size:]
		case kindVarlen:
			l64, n, err := varint.Decode(buf)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
			l, err := varint.ToInt(l64)
			if err != nil {
				return nil, err
			}
			if l > len(buf) {
				return nil, p2perr.New(p2perr.KindProtobufTruncated, "maddr: truncated varlen value")
			}
			val = append([]byte{}, buf[:l]...)
			buf = buf[l:]
		}
		comps = append(comps, Component{Code: code, Value: val})
	}
	return &Multiaddr{comps: comps}, nil
}

// Protocols returns the list of protocol codes in order.
func (m *Multiaddr) Protocols() []int {
	out := make([]int, len(m.comps))
	for i, c := range m.comps {
		out[i] = c.Code
	}
	return out
}

// Components returns the component list.
func (m *Multiaddr) Components() []Component { return m.comps }

// Encapsulate appends other's components after m's, returning a new
// Multiaddr (used to build e.g. relay circuit addresses).
func (m *Multiaddr) Encapsulate(other *Multiaddr) *Multiaddr {
	out := make([]Component, 0, len(m.comps)+len(other.comps))
	out = append(out, m.comps...)
	out = append(out, other.comps...)
	return &Multiaddr{comps: out}
}

// HasProtocol reports whether code appears anywhere in m.
func (m *Multiaddr) HasProtocol(code int) bool {
	for _, c := range m.comps {
		if c.Code == code {
			return true
		}
	}
	return false
}
