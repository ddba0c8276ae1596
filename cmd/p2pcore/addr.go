package main

import (
	"fmt"
	"net"

	"github.com/p2pstack/corenet/internal/maddr"
	"github.com/p2pstack/corenet/internal/p2perr"
)

// tcpDialAddrFromMultiaddr extracts the "host:port" form tcptransport
// needs from an "/ip4/.../tcp/N" style multiaddr.
func tcpDialAddrFromMultiaddr(s string) (string, error) {
	m, err := maddr.NewMultiaddr(s)
	if err != nil {
		return "", err
	}
	var ip net.IP
	var port uint16
	for _, c := range m.Components() {
		switch c.Code {
		case maddr.P_IP4, maddr.P_IP6:
			ip = net.IP(c.Value)
		case maddr.P_TCP:
			if len(c.Value) != 2 {
				return "", p2perr.New(p2perr.KindMalformedMessage, "p2pcore: bad tcp port in multiaddr")
			}
			port = uint16(c.Value[0])<<8 | uint16(c.Value[1])
		}
	}
	if ip == nil {
		return "", p2perr.New(p2perr.KindMalformedMessage, "p2pcore: multiaddr has no ip4/ip6 component")
	}
	return fmt.Sprintf("%s:%d", ip.String(), port), nil
}
