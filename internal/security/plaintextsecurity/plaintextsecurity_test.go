package plaintextsecurity

import (
	"context"
	"testing"

	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/transport/memtransport"
	"github.com/stretchr/testify/require"
)

func TestHandshakeAuthenticatesBothPeers(t *testing.T) {
	a, b := memtransport.Pipe("/memory/a", "/memory/b")

	initKP, err := identity.GenerateEd25519()
	require.NoError(t, err)
	respKP, err := identity.GenerateEd25519()
	require.NoError(t, err)

	u := New()
	ctx := context.Background()

	type result struct {
		remote string
		err    error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		conn, err := u.SecureOutbound(ctx, a, initKP, respKP.PeerID())
		if err != nil {
			initCh <- result{err: err}
			return
		}
		initCh <- result{remote: conn.RemotePeer().String()}
	}()
	go func() {
		conn, err := u.SecureInbound(ctx, b, respKP)
		if err != nil {
			respCh <- result{err: err}
			return
		}
		respCh <- result{remote: conn.RemotePeer().String()}
	}()

	initRes := <-initCh
	respRes := <-respCh

	require.NoError(t, initRes.err)
	require.NoError(t, respRes.err)
	require.Equal(t, respKP.PeerID().String(), initRes.remote)
	require.Equal(t, initKP.PeerID().String(), respRes.remote)
}

func TestHandshakeRejectsExpectedPeerMismatch(t *testing.T) {
	a, b := memtransport.Pipe("/memory/a", "/memory/b")

	initKP, err := identity.GenerateEd25519()
	require.NoError(t, err)
	respKP, err := identity.GenerateEd25519()
	require.NoError(t, err)
	wrongKP, err := identity.GenerateEd25519()
	require.NoError(t, err)

	u := New()
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := u.SecureOutbound(ctx, a, initKP, wrongKP.PeerID())
		errCh <- err
	}()
	go func() {
		_, _ = u.SecureInbound(ctx, b, respKP)
	}()

	err = <-errCh
	require.Error(t, err)
}
