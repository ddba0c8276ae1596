// Package gossipsub implements the GossipSub v1.1/v1.2 mesh-overlay
// publish/subscribe router: mesh and fanout maintenance, per-peer
// scoring, message and seen caches, broken-promise tracking, and the
// inbound RPC state machine that drives all of it.
package gossipsub

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/p2pstack/corenet/internal/eventbus"
	"github.com/p2pstack/corenet/internal/gossipsub/pb"
	"github.com/p2pstack/corenet/internal/identity"
	"github.com/p2pstack/corenet/internal/p2perr"
	"github.com/p2pstack/corenet/internal/peerid"
)

var log = logging.Logger("gossipsub")

const signDomain = "libp2p-pubsub:"

// Transport is everything the router needs from the network layer: the
// ability to send one RPC to one connected peer. Stream ownership,
// dialing, and wire-level RPC reassembly live outside this package (a
// per-connection adapter over mplex streams supplies this in the CLI
// demo); the router itself is transport-agnostic, matching the
// component boundary the rest of the stack draws around it.
type Transport interface {
	SendRPC(ctx context.Context, to peerid.ID, rpc *pb.RPC) error
}

// ValidationResult is an application-supplied topic validator's verdict.
type ValidationResult int

const (
	ValidationAccept ValidationResult = iota
	ValidationReject
	ValidationIgnore
)

// MessageValidator is a per-topic application hook run after structural
// and signature checks pass.
type MessageValidator func(ctx context.Context, from peerid.ID, msg *pb.Message) ValidationResult

// Subscription is the lazy, finite sequence of delivered messages
// returned by Subscribe. It terminates (the channel closes) when
// Unsubscribe/Cancel runs.
type Subscription struct {
	topic  string
	ch     chan *pb.Message
	router *Router
}

func (s *Subscription) Topic() string { return s.topic }

// Messages returns the channel to range over; it closes on unsubscribe.
func (s *Subscription) Messages() <-chan *pb.Message { return s.ch }

// Cancel unsubscribes and closes the sequence.
func (s *Subscription) Cancel() { s.router.Unsubscribe(s.topic) }

// Router owns every piece of mesh/fanout/scoring state for one local
// peer across all topics.
type Router struct {
	cfg       Config
	self      identity.KeyPair
	transport Transport
	bus       *eventbus.Bus[Event]

	mesh     *meshState
	peers    *peerRegistry
	mcache   *messageCache
	seen     *seenCache
	scorer   *peerScorer
	promises *gossipPromises

	subsMu    sync.Mutex
	localSubs map[string]chan *pb.Message

	validatorsMu sync.Mutex
	validators   map[string]MessageValidator

	messageIDFn func(*pb.Message) string

	seqMu      sync.Mutex
	seqCounter uint64

	heartbeatTick uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRouter constructs a router. Call Start to begin the heartbeat loop.
func NewRouter(cfg Config, self identity.KeyPair, transport Transport) *Router {
	return &Router{
		cfg:       cfg,
		self:      self,
		transport: transport,
		bus:       eventbus.New[Event](),
		mesh:      newMeshState(),
		peers:     newPeerRegistry(),
		mcache:    newMessageCache(cfg.MessageCacheLen, cfg.MessageCacheGossip),
		seen:      newSeenCache(cfg.SeenCacheSize, cfg.SeenTTL),
		scorer:    newPeerScorer(defaultScoreWeights()),
		promises:  newGossipPromises(),
		localSubs:  make(map[string]chan *pb.Message),
		validators: make(map[string]MessageValidator),
		stopCh:     make(chan struct{}),
	}
}

// Events returns a subscription to the router's internal event stream
// (peerSubscribed, grafted, peerJoinedMesh, reject_message).
func (r *Router) Events() *eventbus.Subscription[Event] {
	return r.bus.Subscribe()
}

// RegisterTopicValidator installs an application-level validator for topic.
func (r *Router) RegisterTopicValidator(topic string, fn MessageValidator) {
	r.validatorsMu.Lock()
	defer r.validatorsMu.Unlock()
	r.validators[topic] = fn
}

func (r *Router) validatorFor(topic string) MessageValidator {
	r.validatorsMu.Lock()
	defer r.validatorsMu.Unlock()
	return r.validators[topic]
}

// RegisterMessageIDFunc installs the message_id_function used under
// anonymous authenticity, where no source/seqno exists to derive one.
func (r *Router) RegisterMessageIDFunc(fn func(*pb.Message) string) {
	r.messageIDFn = fn
}

// Start launches the periodic heartbeat task.
func (r *Router) Start() {
	r.wg.Add(1)
	go r.heartbeatLoop()
}

// Stop cancels the heartbeat task and shuts the event bus down.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.bus.Shutdown()
}

// AddPeer registers a newly connected peer.
func (r *Router) AddPeer(p peerid.ID, proto ProtocolVersion, dir Direction, direct bool) {
	r.peers.ensure(p, proto, dir, direct)
}

// RemovePeer forgets a disconnected peer: it leaves every mesh/fanout it
// was part of and its scoring history is discarded.
func (r *Router) RemovePeer(p peerid.ID) {
	for _, t := range r.mesh.subscribedTopics() {
		r.mesh.removeFromMesh(t, p)
	}
	r.mesh.mu.Lock()
	for t := range r.mesh.fanout {
		delete(r.mesh.fanout[t], p)
	}
	r.mesh.mu.Unlock()
	r.peers.remove(p)
	r.scorer.forget(p)
}

// RecordPeerIP feeds an observed remote IP into the IP-colocation
// scoring term.
func (r *Router) RecordPeerIP(p peerid.ID, ip string) {
	r.scorer.recordIP(p, ip)
}

// ---- Subscription lifecycle -------------------------------------------------

// Subscribe joins topic: rejects if already subscribed or the
// subscription limit is reached, then broadcasts SubOpts{subscribe} to
// every connected peer.
func (r *Router) Subscribe(topic string) (*Subscription, error) {
	r.subsMu.Lock()
	if len(r.localSubs) >= r.cfg.MaxSubscriptions {
		r.subsMu.Unlock()
		return nil, p2perr.New(p2perr.KindMeshFull, "gossipsub: subscription limit reached")
	}
	if _, already := r.localSubs[topic]; already {
		r.subsMu.Unlock()
		return nil, p2perr.New(p2perr.KindMeshFull, "gossipsub: already subscribed to topic")
	}
	ch := make(chan *pb.Message, 256)
	r.localSubs[topic] = ch
	r.subsMu.Unlock()

	r.mesh.subscribe(topic)
	r.broadcastSubOpts(topic, true)
	return &Subscription{topic: topic, ch: ch, router: r}, nil
}

// Unsubscribe leaves topic: every mesh peer is sent PRUNE with a local
// backoff, and SubOpts{unsubscribe} is broadcast.
func (r *Router) Unsubscribe(topic string) {
	r.subsMu.Lock()
	ch, ok := r.localSubs[topic]
	delete(r.localSubs, topic)
	r.subsMu.Unlock()
	if ok {
		close(ch)
	}

	peers := r.mesh.unsubscribe(topic)
	now := time.Now()
	ctx := context.Background()
	for _, p := range peers {
		if ps, ok := r.peers.get(p); ok {
			ps.setBackoff(topic, now.Add(r.cfg.PruneBackoff))
		}
		r.sendPrune(ctx, p, topic, r.cfg.PruneBackoff)
	}
	r.broadcastSubOpts(topic, false)
}

func (r *Router) broadcastSubOpts(topic string, subscribe bool) {
	rpc := &pb.RPC{Subscriptions: []pb.SubOpts{{Subscribe: subscribe, Topic: topic}}}
	ctx := context.Background()
	for p := range r.peers.all() {
		if err := r.transport.SendRPC(ctx, p, rpc); err != nil {
			log.Debugf("gossipsub: SubOpts send to %s failed: %v", p, err)
		}
	}
}

// ---- Publication -------------------------------------------------------

func (r *Router) nextSeqno() []byte {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.seqCounter++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, r.seqCounter)
	return buf
}

func signPreimage(m *pb.Message) []byte {
	return append([]byte(signDomain), m.MarshalWithoutSignature()...)
}

func (r *Router) messageID(m *pb.Message) string {
	if r.cfg.Authenticity == AuthenticityAnonymous {
		if r.messageIDFn != nil {
			return r.messageIDFn(m)
		}
		return ""
	}
	return string(m.From) + string(m.Seqno)
}

// Publish sends data on topic to the mesh (or fanout, if not locally
// subscribed), flood-publishing to extra subscribers when configured
func (r *Router) Publish(ctx context.Context, topic string, data []byte) error {
	if len(data) > r.cfg.MaxMessageSize {
		return p2perr.New(p2perr.KindMessageTooLarge, "gossipsub: message exceeds max_message_size")
	}
	m := &pb.Message{Topic: topic, Data: data}
	switch r.cfg.Authenticity {
	case AuthenticitySigned, AuthenticityAuthor:
		m.From = r.self.PeerID().Bytes()
		m.Seqno = r.nextSeqno()
		if r.cfg.Authenticity == AuthenticitySigned {
			sig, err := r.self.Sign(signPreimage(m))
			if err != nil {
				return p2perr.Wrap(p2perr.KindInternal, "gossipsub: signing outbound message failed", err)
			}
			m.Signature = sig
			m.Key = r.self.PublicKeyBytes()
		}
	case AuthenticityAnonymous:
		// source, seqno, signature all stay unset.
	}

	id := r.messageID(m)
	r.mcache.put(id, m, r.self.PeerID())
	r.seen.add(id)

	targets := r.selectPublishTargets(topic)
	rpc := &pb.RPC{Publish: []*pb.Message{m}}
	for _, p := range targets {
		if err := r.transport.SendRPC(ctx, p, rpc); err != nil {
			log.Debugf("gossipsub: publish send to %s failed: %v", p, err)
		}
	}
	return nil
}

func (r *Router) peersSubscribedTo(topic string, exclude map[peerid.ID]struct{}) []peerid.ID {
	var out []peerid.ID
	for p, ps := range r.peers.all() {
		if _, skip := exclude[p]; skip {
			continue
		}
		if ps.isSubscribed(topic) {
			out = append(out, p)
		}
	}
	return out
}

func toSet(ids []peerid.ID) map[peerid.ID]struct{} {
	s := make(map[peerid.ID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// pickN returns up to n arbitrary elements of candidates. Go's
// randomized map iteration already supplied the shuffling upstream of
// most call sites; this adds an explicit shuffle for slice inputs too.
func pickN(candidates []peerid.ID, n int) []peerid.ID {
	if n <= 0 || len(candidates) == 0 {
		return nil
	}
	shuffled := make([]peerid.ID, len(candidates))
	copy(shuffled, candidates)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func (r *Router) selectPublishTargets(topic string) []peerid.ID {
	targetSet := make(map[peerid.ID]struct{})
	for _, p := range r.mesh.meshPeers(topic) {
		targetSet[p] = struct{}{}
	}
	for p, ps := range r.peers.all() {
		if ps.Direct && ps.isSubscribed(topic) {
			targetSet[p] = struct{}{}
		}
	}

	if !r.mesh.isSubscribed(topic) || r.mesh.meshSize(topic) == 0 {
		existing := r.mesh.fanoutPeers(topic)
		exclude := toSet(existing)
		need := r.cfg.MeshDegree - len(existing)
		if need > 0 {
			candidates := r.peersSubscribedTo(topic, exclude)
			picked := pickN(candidates, need)
			now := time.Now()
			for _, p := range picked {
				r.mesh.addFanout(topic, p, now)
			}
			existing = append(existing, picked...)
		}
		for _, p := range existing {
			targetSet[p] = struct{}{}
		}
	}

	if r.cfg.FloodPublish {
		subs := r.peersSubscribedTo(topic, targetSet)
		extra := pickN(subs, r.cfg.FloodPublishMaxPeers)
		for _, p := range extra {
			targetSet[p] = struct{}{}
		}
	}

	out := make([]peerid.ID, 0, len(targetSet))
	for p := range targetSet {
		out = append(out, p)
	}
	return out
}

// ---- Inbound RPC handling ------------------------------------------------

// HandleRPC processes one RPC received from peer from.
func (r *Router) HandleRPC(ctx context.Context, from peerid.ID, rpc *pb.RPC) {
	for _, s := range rpc.Subscriptions {
		r.handleSubOpts(from, s)
	}
	for _, m := range rpc.Publish {
		r.handleInboundMessage(ctx, from, m)
	}
	if rpc.Control != nil {
		r.handleControl(ctx, from, rpc.Control)
	}
}

func (r *Router) handleSubOpts(from peerid.ID, s pb.SubOpts) {
	ps, ok := r.peers.get(from)
	if !ok {
		return
	}
	wasSubscribed := ps.isSubscribed(s.Topic)
	ps.setSubscribed(s.Topic, s.Subscribe)
	if s.Subscribe && !wasSubscribed {
		r.bus.Emit(Event{Kind: EventPeerSubscribed, Peer: from, Topic: s.Topic})
	}
}

func (r *Router) rejectMessage(from peerid.ID, topic string, reason RejectReason) {
	r.scorer.recordInvalidMessage(from, topic)
	r.bus.Emit(Event{Kind: EventRejectMessage, Peer: from, Topic: topic, Reason: reason})
}

func (r *Router) structurallyValid(m *pb.Message) bool {
	if m.Topic == "" || len(m.Data) > r.cfg.MaxMessageSize {
		return false
	}
	switch r.cfg.Authenticity {
	case AuthenticitySigned:
		if len(m.From) == 0 || len(m.Seqno) == 0 {
			return false
		}
	case AuthenticityAuthor:
		if len(m.From) == 0 || len(m.Seqno) == 0 || len(m.Signature) != 0 {
			return false
		}
	case AuthenticityAnonymous:
		if len(m.From) != 0 || len(m.Seqno) != 0 || len(m.Signature) != 0 {
			return false
		}
	}
	return true
}

// verifySignature checks m.Signature against the canonical signing
// preimage. Under non-strict verification, a missing signature
// is tolerated (treated as unverifiable-but-not-invalid); under strict
// verification (the default) a missing or mismatching signature both
// fail.
func (r *Router) verifySignature(m *pb.Message) bool {
	if len(m.Signature) == 0 {
		return !r.cfg.StrictSigVerify
	}
	var pub []byte
	if len(m.Key) > 0 {
		pub = m.Key
	} else if embedded, ok := peerid.FromBytes(m.From).EmbeddedIdentityKey(); ok {
		pub = embedded
	} else {
		return false
	}
	if !peerid.FromBytes(m.From).Equal(peerid.FromPublicKey(pub)) {
		return false
	}
	return identity.VerifyAny(pub, m.Signature, signPreimage(m))
}

func (r *Router) handleInboundMessage(ctx context.Context, from peerid.ID, m *pb.Message) {
	topic := m.Topic
	if !r.structurallyValid(m) {
		r.rejectMessage(from, topic, RejectStructuralInvalid)
		return
	}
	if r.cfg.ValidateSignatures && r.cfg.Authenticity == AuthenticitySigned {
		if !r.verifySignature(m) {
			r.rejectMessage(from, topic, RejectInvalidSignature)
			return
		}
	}

	id := r.messageID(m)
	if r.seen.contains(id) {
		r.scorer.recordMeshDelivery(from, topic)
		return
	}

	if v := r.validatorFor(topic); v != nil {
		switch v(ctx, from, m) {
		case ValidationReject:
			r.rejectMessage(from, topic, RejectValidatorRejected)
			return
		case ValidationIgnore:
			return
		}
	}

	if _, alreadyCached := r.mcache.originator(id); alreadyCached {
		r.scorer.recordMeshDelivery(from, topic)
	} else {
		r.scorer.recordFirstDelivery(from, topic)
		r.mcache.put(id, m, from)
	}
	r.seen.add(id)

	r.deliverLocal(m)
	r.forward(ctx, from, m, id)
	r.promises.resolve(id)
}

func (r *Router) deliverLocal(m *pb.Message) {
	r.subsMu.Lock()
	ch, ok := r.localSubs[m.Topic]
	r.subsMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- m:
	default:
		log.Warnf("gossipsub: local subscriber for %q is slow, dropping a message", m.Topic)
	}
}

func (r *Router) forward(ctx context.Context, from peerid.ID, m *pb.Message, id string) {
	topic := m.Topic
	var originalSource peerid.ID
	if len(m.From) > 0 {
		originalSource = peerid.FromBytes(m.From)
	}

	if len(m.Data) >= r.cfg.IDontWantThreshold {
		for _, p := range r.mesh.meshPeers(topic) {
			if p.Equal(from) {
				continue
			}
			ps, ok := r.peers.get(p)
			if !ok || ps.Protocol != ProtocolV12 {
				continue
			}
			idw := &pb.RPC{Control: &pb.ControlMessage{IDontWant: []pb.ControlIDontWant{{MessageIDs: []string{id}}}}}
			if err := r.transport.SendRPC(ctx, p, idw); err != nil {
				log.Debugf("gossipsub: IDONTWANT send to %s failed: %v", p, err)
			}
		}
	}

	targetSet := toSet(r.mesh.meshPeers(topic))
	for p, ps := range r.peers.all() {
		if ps.Direct && ps.isSubscribed(topic) {
			targetSet[p] = struct{}{}
		}
	}
	delete(targetSet, from)
	if !originalSource.IsEmpty() {
		delete(targetSet, originalSource)
	}

	now := time.Now()
	rpc := &pb.RPC{Publish: []*pb.Message{m}}
	for p := range targetSet {
		if ps, ok := r.peers.get(p); ok && ps.hasIDontWant(id, r.cfg.IDontWantTTL, now) {
			continue
		}
		if err := r.transport.SendRPC(ctx, p, rpc); err != nil {
			log.Debugf("gossipsub: forward to %s failed: %v", p, err)
		}
	}
}

func (r *Router) handleControl(ctx context.Context, from peerid.ID, c *pb.ControlMessage) {
	for _, g := range c.Graft {
		r.handleGraft(ctx, from, g.Topic)
	}
	for _, pr := range c.Prune {
		r.handlePrune(from, pr)
	}
	for _, ih := range c.IHave {
		r.handleIHave(ctx, from, ih)
	}
	for _, iw := range c.IWant {
		r.handleIWant(ctx, from, iw)
	}
	for _, idw := range c.IDontWant {
		if ps, ok := r.peers.get(from); ok {
			now := time.Now()
			for _, id := range idw.MessageIDs {
				ps.addIDontWant(id, now)
			}
		}
	}
}

func (r *Router) handleGraft(ctx context.Context, from peerid.ID, topic string) {
	ps, ok := r.peers.get(from)
	if !ok {
		return
	}
	now := time.Now()
	if !r.mesh.isSubscribed(topic) ||
		r.scorer.isGraylisted(from, r.cfg.GraylistThreshold) ||
		ps.backoffActive(topic, now) ||
		r.mesh.meshSize(topic) >= r.cfg.MeshDegreeHigh {
		r.sendPrune(ctx, from, topic, r.cfg.PruneBackoff)
		return
	}
	r.mesh.addToMesh(topic, from)
	ps.clearBackoff(topic)
	r.bus.Emit(Event{Kind: EventGrafted, Peer: from, Topic: topic})
	r.bus.Emit(Event{Kind: EventPeerJoinedMesh, Peer: from, Topic: topic})
}

func (r *Router) handlePrune(from peerid.ID, pr pb.ControlPrune) {
	ps, ok := r.peers.get(from)
	if !ok {
		return
	}
	wasInMesh := r.mesh.inMesh(pr.Topic, from)
	r.mesh.removeFromMesh(pr.Topic, from)

	backoff := r.cfg.PruneBackoff
	if provided := time.Duration(pr.BackoffSec) * time.Second; provided > backoff {
		backoff = provided
	}
	ps.setBackoff(pr.Topic, time.Now().Add(backoff))

	if wasInMesh {
		r.scorer.recordMeshFailure(from, pr.Topic)
	}

	if r.cfg.EnablePeerExchange && len(pr.Peers) > 0 && r.scorer.score(from) >= r.cfg.AcceptPXThreshold {
		log.Debugf("gossipsub: %d peer-exchange suggestions from %s for topic %q", len(pr.Peers), from, pr.Topic)
	}
}

func (r *Router) handleIHave(ctx context.Context, from peerid.ID, ih pb.ControlIHave) {
	ids := ih.MessageIDs
	if len(ids) > r.cfg.MaxIHaveMessages {
		ids = ids[:r.cfg.MaxIHaveMessages]
	}
	now := time.Now()
	var want []string
	for _, id := range ids {
		if len(want) >= r.cfg.MaxIWantMessages {
			break
		}
		if r.seen.contains(id) {
			continue
		}
		want = append(want, id)
		r.promises.add(id, from, now.Add(r.cfg.IWantFollowupTime))
	}
	if len(want) == 0 {
		return
	}
	rpc := &pb.RPC{Control: &pb.ControlMessage{IWant: []pb.ControlIWant{{MessageIDs: want}}}}
	if err := r.transport.SendRPC(ctx, from, rpc); err != nil {
		log.Debugf("gossipsub: IWANT send to %s failed: %v", from, err)
	}
}

func (r *Router) handleIWant(ctx context.Context, from peerid.ID, iw pb.ControlIWant) {
	var toSend []*pb.Message
	for _, id := range iw.MessageIDs {
		if m, ok := r.mcache.get(id); ok {
			toSend = append(toSend, m)
		}
	}
	if len(toSend) == 0 {
		return
	}
	if err := r.transport.SendRPC(ctx, from, &pb.RPC{Publish: toSend}); err != nil {
		log.Debugf("gossipsub: IWANT fulfillment send to %s failed: %v", from, err)
	}
}

func (r *Router) sendPrune(ctx context.Context, p peerid.ID, topic string, backoff time.Duration) {
	rpc := &pb.RPC{Control: &pb.ControlMessage{Prune: []pb.ControlPrune{{
		Topic:      topic,
		BackoffSec: uint64(backoff / time.Second),
	}}}}
	if err := r.transport.SendRPC(ctx, p, rpc); err != nil {
		log.Debugf("gossipsub: PRUNE send to %s failed: %v", p, err)
	}
}

func (r *Router) graftPeer(ctx context.Context, p peerid.ID, topic string) {
	r.mesh.addToMesh(topic, p)
	if ps, ok := r.peers.get(p); ok {
		ps.clearBackoff(topic)
	}
	rpc := &pb.RPC{Control: &pb.ControlMessage{Graft: []pb.ControlGraft{{Topic: topic}}}}
	if err := r.transport.SendRPC(ctx, p, rpc); err != nil {
		log.Debugf("gossipsub: GRAFT send to %s failed: %v", p, err)
	}
}

// ---- Heartbeat -----------------------------------------------------------

func (r *Router) heartbeatLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.heartbeat()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Router) pickGraftCandidates(topic string, need int) []peerid.ID {
	if need <= 0 {
		return nil
	}
	meshSet := toSet(r.mesh.meshPeers(topic))
	fanoutSet := toSet(r.mesh.fanoutPeers(topic))
	now := time.Now()
	var candidates []peerid.ID
	for p, ps := range r.peers.all() {
		if _, ok := meshSet[p]; ok {
			continue
		}
		if _, ok := fanoutSet[p]; ok {
			continue
		}
		if !ps.isSubscribed(topic) {
			continue
		}
		if ps.backoffActive(topic, now) {
			continue
		}
		if r.scorer.isGraylisted(p, r.cfg.GraylistThreshold) {
			continue
		}
		candidates = append(candidates, p)
	}
	return pickN(candidates, need)
}

func (r *Router) ensureOutbound(ctx context.Context, topic string) {
	peers := r.mesh.meshPeers(topic)
	outbound := 0
	for _, p := range peers {
		if ps, ok := r.peers.get(p); ok && ps.Direction == DirectionOutbound {
			outbound++
		}
	}
	if outbound >= r.cfg.MeshOutboundMin {
		return
	}
	need := r.cfg.MeshOutboundMin - outbound
	candidates := r.pickGraftCandidates(topic, need*4)
	added := 0
	for _, p := range candidates {
		if added >= need {
			break
		}
		ps, ok := r.peers.get(p)
		if !ok || ps.Direction != DirectionOutbound {
			continue
		}
		r.graftPeer(ctx, p, topic)
		added++
	}
}

// trimMesh keeps the top D peers by score, biasing toward at least
// D_out outbound peers among them.
func (r *Router) trimMesh(ctx context.Context, topic string) {
	peers := r.mesh.meshPeers(topic)
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	scores := r.scorer.scores(peers)
	sort.SliceStable(peers, func(i, j int) bool { return scores[peers[i]] > scores[peers[j]] })

	d := r.cfg.MeshDegree
	if d > len(peers) {
		d = len(peers)
	}
	kept := append([]peerid.ID(nil), peers[:d]...)
	rest := peers[d:]

	outboundIn := func(set []peerid.ID) int {
		n := 0
		for _, p := range set {
			if ps, ok := r.peers.get(p); ok && ps.Direction == DirectionOutbound {
				n++
			}
		}
		return n
	}
	for outboundIn(kept) < r.cfg.MeshOutboundMin && len(rest) > 0 {
		var swapIdx = -1
		for i, p := range rest {
			if ps, ok := r.peers.get(p); ok && ps.Direction == DirectionOutbound {
				swapIdx = i
				break
			}
		}
		if swapIdx < 0 {
			break
		}
		inbound := len(kept) - 1
		for inbound >= 0 {
			if ps, ok := r.peers.get(kept[inbound]); ok && ps.Direction == DirectionInbound {
				break
			}
			inbound--
		}
		if inbound < 0 {
			break
		}
		kept[inbound], rest[swapIdx] = rest[swapIdx], kept[inbound]
	}

	keptSet := toSet(kept)
	r.mesh.setMesh(topic, keptSet)
	for _, p := range peers {
		if _, ok := keptSet[p]; !ok {
			r.sendPrune(ctx, p, topic, r.cfg.PruneBackoff)
		}
	}
}

func (r *Router) pickFanoutCandidates(topic string, need int, existing []peerid.ID) []peerid.ID {
	exclude := toSet(existing)
	candidates := r.peersSubscribedTo(topic, exclude)
	return pickN(candidates, need)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func (r *Router) heartbeat() {
	ctx := context.Background()
	now := time.Now()

	// 1. score decay
	r.scorer.decay()

	// 2. broken-promise harvest
	for p, count := range r.promises.getBrokenPromises(now) {
		r.scorer.recordBrokenPromises(p, count)
	}

	// 3. mesh maintenance per subscribed topic
	for _, t := range r.mesh.subscribedTopics() {
		for _, p := range r.mesh.meshPeers(t) {
			if r.scorer.isGraylisted(p, r.cfg.GraylistThreshold) {
				r.mesh.removeFromMesh(t, p)
				r.sendPrune(ctx, p, t, r.cfg.PruneBackoff)
				continue
			}
			r.scorer.recordInMesh(p, t)
		}

		size := r.mesh.meshSize(t)
		switch {
		case size < r.cfg.MeshDegreeLow:
			need := r.cfg.MeshDegree - size
			for _, p := range r.pickGraftCandidates(t, need) {
				r.graftPeer(ctx, p, t)
			}
		case size > r.cfg.MeshDegreeHigh:
			r.trimMesh(ctx, t)
		}
		r.ensureOutbound(ctx, t)
	}

	// 4. fanout maintenance
	for _, t := range r.mesh.fanoutTopics() {
		r.mesh.pruneFanout(t, r.cfg.FanoutTTL, now)
		existing := r.mesh.fanoutPeers(t)
		need := r.cfg.MeshDegree - len(existing)
		if need > 0 {
			for _, p := range r.pickFanoutCandidates(t, need, existing) {
				r.mesh.addFanout(t, p, now)
			}
		}
	}

	// 5. opportunistic grafting
	r.heartbeatTick++
	if r.cfg.OpportunisticGraftTicks > 0 && r.heartbeatTick%uint64(r.cfg.OpportunisticGraftTicks) == 0 {
		for _, t := range r.mesh.subscribedTopics() {
			size := r.mesh.meshSize(t)
			if size < r.cfg.MeshDegreeLow || size >= r.cfg.MeshDegreeHigh {
				continue
			}
			peers := r.mesh.meshPeers(t)
			scores := r.scorer.scores(peers)
			vals := make([]float64, 0, len(scores))
			for _, s := range scores {
				vals = append(vals, s)
			}
			med := median(vals)
			if med >= r.cfg.OpportunisticGraftThreshold {
				continue
			}
			for _, p := range r.pickGraftCandidates(t, r.cfg.OpportunisticGraftPeers) {
				if r.scorer.score(p) > med {
					r.graftPeer(ctx, p, t)
				}
			}
		}
	}

	// 6. gossip emission
	for _, t := range r.mesh.subscribedTopics() {
		ids := r.mcache.gossipIDs(t)
		if len(ids) == 0 {
			continue
		}
		exclude := toSet(r.mesh.meshPeers(t))
		for _, p := range r.mesh.fanoutPeers(t) {
			exclude[p] = struct{}{}
		}
		candidates := r.peersSubscribedTo(t, exclude)
		picked := pickN(candidates, r.cfg.GossipDegree)
		rpc := &pb.RPC{Control: &pb.ControlMessage{IHave: []pb.ControlIHave{{Topic: t, MessageIDs: ids}}}}
		for _, p := range picked {
			if err := r.transport.SendRPC(ctx, p, rpc); err != nil {
				log.Debugf("gossipsub: IHAVE send to %s failed: %v", p, err)
			}
		}
	}

	// 7. cache aging
	r.mcache.shift()
}
