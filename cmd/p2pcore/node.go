package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/p2pstack/corenet/internal/config"
	"github.com/p2pstack/corenet/internal/configwatch"
	"github.com/p2pstack/corenet/internal/gossipsub"
	gpb "github.com/p2pstack/corenet/internal/gossipsub/pb"
	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/mplex"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
	"github.com/p2pstack/corenet/internal/relay"
	"github.com/p2pstack/corenet/internal/security"
	"github.com/p2pstack/corenet/internal/security/noisesecurity"
	"github.com/p2pstack/corenet/internal/security/plaintextsecurity"
	"github.com/p2pstack/corenet/internal/transport"
	"github.com/p2pstack/corenet/internal/transport/tcptransport"
	"github.com/p2pstack/corenet/internal/util"
	"github.com/p2pstack/corenet/internal/varint"
)

const gossipsubProtocolID = "/meshsub/1.2.0"

// Node wires identity, transport, security, mplex, gossipsub and relay
// into a single runnable peer.
type Node struct {
	cfg    config.Config
	kp     identity.KeyPair
	selfID peerid.ID
	up     security.Upgrader

	listener *tcptransport.Listener

	mu    sync.Mutex
	conns map[peerid.ID]*mplex.MplexConnection
	addrs map[peerid.ID]string // known dial address, populated via AddPeerAddr

	Router *gossipsub.Router
	Relay  *relay.RelayClient

	diag *util.RingBuffer[string]
	cw   *configwatch.Watcher
}

func newNode(cfg config.Config, kp identity.KeyPair, cw *configwatch.Watcher) *Node {
	var up security.Upgrader = plaintextsecurity.New()
	if cfg.Log.Subsystems["security"] == "noise" {
		up = noisesecurity.New()
	}

	n := &Node{
		cfg:    cfg,
		kp:     kp,
		selfID: kp.PeerID(),
		up:     up,
		conns:  make(map[peerid.ID]*mplex.MplexConnection),
		addrs:  make(map[peerid.ID]string),
		diag:   util.NewRingBuffer[string](256),
		cw:     cw,
	}
	n.Router = gossipsub.NewRouter(cfg.RouterConfig(), kp, n)
	n.Relay = relay.NewRelayClient(cfg.RelayConfig(), n, n.selfID)
	return n
}

func (n *Node) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	n.diag.Push(msg)
	log.Print(msg)
}

// Start begins listening for inbound connections and the GossipSub
// heartbeat loop. It returns once the listener is bound.
func (n *Node) Start(ctx context.Context) error {
	if n.cfg.Listen.TCPAddr == "" {
		return p2perr.New(p2perr.KindInternal, "p2pcore: no tcp listen address configured")
	}
	addr, err := tcpDialAddrFromMultiaddr(n.cfg.Listen.TCPAddr)
	if err != nil {
		return err
	}
	ln, err := tcptransport.Listen(addr)
	if err != nil {
		return err
	}
	n.listener = ln
	n.logf("p2pcore: listening on %s (peer %s)", ln.Addr(), n.selfID)

	n.Router.Start()
	go n.acceptLoop(ctx)
	go n.watchConfigReloads()

	go func() {
		<-ctx.Done()
		n.listener.Close()
		n.Router.Stop()
	}()
	return nil
}

func (n *Node) watchConfigReloads() {
	if n.cw == nil {
		return
	}
	sub := n.cw.Events()
	for ev := range sub.Out() {
		if ev.Kind == configwatch.EventReloaded {
			n.logf("p2pcore: configuration reloaded from disk")
		}
	}
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		raw, err := n.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logf("p2pcore: accept failed: %v", err)
			continue
		}
		go n.handleInbound(ctx, raw)
	}
}

func (n *Node) handleInbound(ctx context.Context, raw transport.RawConnection) {
	secured, err := n.up.SecureInbound(ctx, raw, n.kp)
	if err != nil {
		n.logf("p2pcore: inbound handshake failed: %v", err)
		raw.Close()
		return
	}
	mc := mplex.New(secured, n.cfg.MplexConfig())
	n.mu.Lock()
	n.conns[secured.RemotePeer()] = mc
	n.mu.Unlock()
	n.Router.AddPeer(secured.RemotePeer(), gossipsub.ProtocolV12, gossipsub.DirectionInbound, false)

	for {
		s, err := mc.AcceptStream(ctx)
		if err != nil {
			return
		}
		go n.handleInboundStream(ctx, secured.RemotePeer(), s)
	}
}

func (n *Node) handleInboundStream(ctx context.Context, from peerid.ID, s *mplex.MplexStream) {
	proto, err := readProtocolID(ctx, s)
	if err != nil {
		s.Reset(ctx)
		return
	}
	switch proto {
	case gossipsubProtocolID:
		n.serveGossipsubStream(ctx, from, s)
	case relay.StopProtocolID:
		if err := n.Relay.HandleStopStream(ctx, from, s); err != nil {
			n.logf("p2pcore: relay stop stream from %s failed: %v", from, err)
		}
	default:
		n.logf("p2pcore: inbound stream with unknown protocol %q from %s", proto, from)
		s.Reset(ctx)
	}
}

func (n *Node) serveGossipsubStream(ctx context.Context, from peerid.ID, s *mplex.MplexStream) {
	for {
		buf, err := readLengthPrefixedFrame(ctx, s, n.cfg.GossipSub.MaxMessageSize)
		if err != nil {
			return
		}
		rpc, err := gpb.UnmarshalRPC(buf, n.cfg.GossipSub.MaxMessageSize)
		if err != nil {
			n.logf("p2pcore: malformed RPC from %s: %v", from, err)
			continue
		}
		n.Router.HandleRPC(ctx, from, rpc)
	}
}

// getOrDialConn returns an existing mplex connection to p, dialing one
// using the known address book entry if none exists yet.
func (n *Node) getOrDialConn(ctx context.Context, p peerid.ID) (*mplex.MplexConnection, error) {
	n.mu.Lock()
	mc, ok := n.conns[p]
	addr, hasAddr := n.addrs[p]
	n.mu.Unlock()
	if ok {
		return mc, nil
	}
	if !hasAddr {
		return nil, p2perr.New(p2perr.KindInternal, "p2pcore: no known address for peer")
	}
	return n.dial(ctx, addr, p)
}

func (n *Node) dial(ctx context.Context, tcpAddr string, expected peerid.ID) (*mplex.MplexConnection, error) {
	raw, err := tcptransport.Dial(ctx, tcpAddr)
	if err != nil {
		return nil, err
	}
	secured, err := n.up.SecureOutbound(ctx, raw, n.kp, expected)
	if err != nil {
		raw.Close()
		return nil, err
	}
	mc := mplex.New(secured, n.cfg.MplexConfig())
	n.mu.Lock()
	n.conns[expected] = mc
	n.mu.Unlock()
	n.Router.AddPeer(expected, gossipsub.ProtocolV12, gossipsub.DirectionOutbound, false)
	go func() {
		for {
			s, err := mc.AcceptStream(ctx)
			if err != nil {
				return
			}
			go n.handleInboundStream(ctx, expected, s)
		}
	}()
	return mc, nil
}

// AddPeerAddr registers a dialable TCP address for a peer, used by the
// CLI's -peers flag to seed the mesh before any GossipSub traffic exists.
func (n *Node) AddPeerAddr(p peerid.ID, tcpAddr string) {
	n.mu.Lock()
	n.addrs[p] = tcpAddr
	n.mu.Unlock()
}

// SendRPC implements gossipsub.Transport: opens a fresh stream to the
// peer for every RPC, framed the same length-prefixed way every other
// wire protocol in this module is.
func (n *Node) SendRPC(ctx context.Context, to peerid.ID, rpc *gpb.RPC) error {
	mc, err := n.getOrDialConn(ctx, to)
	if err != nil {
		return err
	}
	s, err := mc.NewStream(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx)
	if err := writeProtocolID(ctx, s, gossipsubProtocolID); err != nil {
		return err
	}
	return writeLengthPrefixedFrame(ctx, s, rpc.Marshal(), n.cfg.GossipSub.MaxMessageSize)
}

// OpenStream implements relay.StreamOpener.
func (n *Node) OpenStream(ctx context.Context, p peerid.ID, protocolID string) (relay.Stream, error) {
	mc, err := n.getOrDialConn(ctx, p)
	if err != nil {
		return nil, err
	}
	s, err := mc.NewStream(ctx)
	if err != nil {
		return nil, err
	}
	if err := writeProtocolID(ctx, s, protocolID); err != nil {
		s.Reset(ctx)
		return nil, err
	}
	return s, nil
}

func writeLengthPrefixedFrame(ctx context.Context, s *mplex.MplexStream, payload []byte, maxSize int) error {
	if maxSize > 0 && len(payload) > maxSize {
		return p2perr.New(p2perr.KindMessageTooLarge, "p2pcore: frame exceeds configured max message size")
	}
	framed := varint.Encode(nil, uint64(len(payload)))
	framed = append(framed, payload...)
	return s.Write(ctx, framed)
}

func readLengthPrefixedFrame(ctx context.Context, s *mplex.MplexStream, maxSize int) ([]byte, error) {
	var buf []byte
	for {
		if len(buf) > 0 {
			n, consumed, err := varint.Decode(buf)
			if err == nil {
				if maxSize > 0 && int(n) > maxSize {
					return nil, p2perr.New(p2perr.KindMessageTooLarge, "p2pcore: frame exceeds configured max message size")
				}
				for len(buf) < consumed+int(n) {
					chunk, err := s.Read(ctx)
					if err != nil {
						return nil, err
					}
					buf = append(buf, chunk...)
				}
				return buf[consumed : consumed+int(n)], nil
			}
			if kind, ok := p2perr.Of(err); !ok || kind != p2perr.KindProtobufTruncated {
				return nil, err
			}
		}
		chunk, err := s.Read(ctx)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
}
