package gossipsub

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/p2pstack/corenet/internal/peerid"
)

// ProtocolVersion is the negotiated GossipSub protocol a peer speaks.
type ProtocolVersion int

const (
	ProtocolFloodsub ProtocolVersion = iota
	ProtocolV10
	ProtocolV11
	ProtocolV12
)

// Direction records which side dialed the connection a peer was reached on.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

const idontwantCap = 10000

// PeerState is the per-peer record tracked by the router: protocol
// version, direction, subscriptions, per-topic backoff, and the bounded
// IDONTWANT set.
type PeerState struct {
	mu sync.Mutex

	Protocol  ProtocolVersion
	Direction Direction
	Direct    bool

	subscribed map[string]struct{}
	backoff    map[string]time.Time
	idontwant  *lru.Cache[string, time.Time]
}

func newPeerState(proto ProtocolVersion, dir Direction, direct bool) *PeerState {
	c, _ := lru.New[string, time.Time](idontwantCap)
	return &PeerState{
		Protocol:   proto,
		Direction:  dir,
		Direct:     direct,
		subscribed: make(map[string]struct{}),
		backoff:    make(map[string]time.Time),
		idontwant:  c,
	}
}

func (p *PeerState) setSubscribed(topic string, subscribe bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subscribe {
		p.subscribed[topic] = struct{}{}
	} else {
		delete(p.subscribed, topic)
	}
}

func (p *PeerState) isSubscribed(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subscribed[topic]
	return ok
}

func (p *PeerState) subscribedTopics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.subscribed))
	for t := range p.subscribed {
		out = append(out, t)
	}
	return out
}

func (p *PeerState) setBackoff(topic string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.backoff[topic]; !ok || until.After(existing) {
		p.backoff[topic] = until
	}
}

func (p *PeerState) backoffActive(topic string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.backoff[topic]
	return ok && until.After(now)
}

func (p *PeerState) clearBackoff(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.backoff, topic)
}

func (p *PeerState) addIDontWant(messageID string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idontwant.Add(messageID, now)
}

func (p *PeerState) hasIDontWant(messageID string, ttl time.Duration, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts, ok := p.idontwant.Peek(messageID)
	if !ok {
		return false
	}
	return now.Sub(ts) < ttl
}

// peerRegistry is the router's peer → PeerState map, behind its own lock
type peerRegistry struct {
	mu    sync.Mutex
	peers map[peerid.ID]*PeerState
}

func newPeerRegistry() *peerRegistry {
	return &peerRegistry{peers: make(map[peerid.ID]*PeerState)}
}

func (r *peerRegistry) ensure(p peerid.ID, proto ProtocolVersion, dir Direction, direct bool) *PeerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[p]
	if !ok {
		ps = newPeerState(proto, dir, direct)
		r.peers[p] = ps
	}
	return ps
}

func (r *peerRegistry) get(p peerid.ID) (*PeerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.peers[p]
	return ps, ok
}

func (r *peerRegistry) remove(p peerid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, p)
}

func (r *peerRegistry) all() map[peerid.ID]*PeerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[peerid.ID]*PeerState, len(r.peers))
	for k, v := range r.peers {
		out[k] = v
	}
	return out
}

// meshState owns, per topic: the mesh peer set, the fanout peer set with
// last-used timestamps, and the set of locally subscribed topics.
type meshState struct {
	mu         sync.Mutex
	subscribed map[string]struct{}
	mesh       map[string]map[peerid.ID]struct{}
	fanout     map[string]map[peerid.ID]time.Time
}

func newMeshState() *meshState {
	return &meshState{
		subscribed: make(map[string]struct{}),
		mesh:       make(map[string]map[peerid.ID]struct{}),
		fanout:     make(map[string]map[peerid.ID]time.Time),
	}
}

func (m *meshState) isSubscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscribed[topic]
	return ok
}

func (m *meshState) subscribe(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribed[topic]; ok {
		return false
	}
	m.subscribed[topic] = struct{}{}
	if m.mesh[topic] == nil {
		m.mesh[topic] = make(map[peerid.ID]struct{})
	}
	return true
}

func (m *meshState) unsubscribe(topic string) []peerid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribed, topic)
	var peers []peerid.ID
	for p := range m.mesh[topic] {
		peers = append(peers, p)
	}
	delete(m.mesh, topic)
	return peers
}

func (m *meshState) subscribedTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscribed))
	for t := range m.subscribed {
		out = append(out, t)
	}
	return out
}

func (m *meshState) meshPeers(topic string) []peerid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]peerid.ID, 0, len(m.mesh[topic]))
	for p := range m.mesh[topic] {
		out = append(out, p)
	}
	return out
}

func (m *meshState) meshSize(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mesh[topic])
}

func (m *meshState) inMesh(topic string, p peerid.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.mesh[topic][p]
	return ok
}

func (m *meshState) addToMesh(topic string, p peerid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mesh[topic] == nil {
		m.mesh[topic] = make(map[peerid.ID]struct{})
	}
	m.mesh[topic][p] = struct{}{}
	if m.fanout[topic] != nil {
		delete(m.fanout[topic], p)
	}
}

func (m *meshState) removeFromMesh(topic string, p peerid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mesh[topic], p)
}

func (m *meshState) setMesh(topic string, peers map[peerid.ID]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mesh[topic] = peers
}

func (m *meshState) fanoutPeers(topic string) []peerid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]peerid.ID, 0, len(m.fanout[topic]))
	for p := range m.fanout[topic] {
		out = append(out, p)
	}
	return out
}

func (m *meshState) addFanout(topic string, p peerid.ID, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fanout[topic] == nil {
		m.fanout[topic] = make(map[peerid.ID]time.Time)
	}
	m.fanout[topic][p] = now
}

func (m *meshState) pruneFanout(topic string, ttl time.Duration, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p, last := range m.fanout[topic] {
		if now.Sub(last) > ttl {
			delete(m.fanout[topic], p)
		}
	}
}

func (m *meshState) fanoutTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.fanout))
	for t, peers := range m.fanout {
		if len(peers) > 0 {
			out = append(out, t)
		}
	}
	return out
}
