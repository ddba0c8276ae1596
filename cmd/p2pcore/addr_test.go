package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTCPDialAddrFromMultiaddr(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{"/ip4/127.0.0.1/tcp/4001", "127.0.0.1:4001"},
		{"/ip4/1.2.3.4/tcp/4001", "1.2.3.4:4001"},
	}
	for _, c := range cases {
		got, err := tcpDialAddrFromMultiaddr(c.addr)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestTCPDialAddrFromMultiaddrRejectsNoIP(t *testing.T) {
	_, err := tcpDialAddrFromMultiaddr("/tcp/4001")
	require.Error(t, err)
}
