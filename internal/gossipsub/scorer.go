package gossipsub

import (
	"sync"

	"github.com/p2pstack/corenet/internal/peerid"
)

// scoreWeights are the per-component multipliers feeding into a peer's
// score. P2's first-delivery bonus and P4's invalid-message penalty
// dominate so that a single protocol violation visibly outweighs a
// handful of honest deliveries.
type scoreWeights struct {
	p1, p2, p3, p3b, p4 float64
	brokenPromise       float64
	ipColocation        float64
	decay               float64 // multiplicative per-heartbeat decay, (0,1]
}

func defaultScoreWeights() scoreWeights {
	return scoreWeights{
		p1:            0.05,
		p2:            1.0,
		p3:            0.5,
		p3b:           2.0,
		p4:            10.0,
		brokenPromise: 5.0,
		ipColocation:  3.0,
		decay:         0.9,
	}
}

// topicCounters are the raw P1–P4 accumulators for one (peer, topic) pair
type topicCounters struct {
	p1InMesh         float64 // time-in-mesh accrual
	p2FirstDeliver   float64
	p3MeshDeliver    float64 // incremented per recordMeshDelivery call; subtracted (times p3) in the score
	p3bMeshFailure   float64
	p4InvalidMsg     float64
	topicWeight      float64
}

// peerScorer computes each peer's real-valued score from per-topic
// counters, broken-promise history, and IP co-location, each subject to
// exponential decay.
type peerScorer struct {
	mu sync.Mutex

	weights scoreWeights

	counters       map[peerid.ID]map[string]*topicCounters
	brokenPromises map[peerid.ID]float64
	ipColocation   map[string]map[peerid.ID]struct{} // ip -> peers observed on it
	peerIP         map[peerid.ID]string
}

func newPeerScorer(w scoreWeights) *peerScorer {
	return &peerScorer{
		weights:        w,
		counters:       make(map[peerid.ID]map[string]*topicCounters),
		brokenPromises: make(map[peerid.ID]float64),
		ipColocation:   make(map[string]map[peerid.ID]struct{}),
		peerIP:         make(map[peerid.ID]string),
	}
}

func (s *peerScorer) topicCounters(p peerid.ID, topic string) *topicCounters {
	perPeer, ok := s.counters[p]
	if !ok {
		perPeer = make(map[string]*topicCounters)
		s.counters[p] = perPeer
	}
	tc, ok := perPeer[topic]
	if !ok {
		tc = &topicCounters{topicWeight: 1.0}
		perPeer[topic] = tc
	}
	return tc
}

func (s *peerScorer) recordInMesh(p peerid.ID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicCounters(p, topic).p1InMesh++
}

func (s *peerScorer) recordFirstDelivery(p peerid.ID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicCounters(p, topic).p2FirstDeliver++
}

func (s *peerScorer) recordMeshDelivery(p peerid.ID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicCounters(p, topic).p3MeshDeliver++
}

func (s *peerScorer) recordMeshFailure(p peerid.ID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicCounters(p, topic).p3bMeshFailure++
}

func (s *peerScorer) recordInvalidMessage(p peerid.ID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topicCounters(p, topic).p4InvalidMsg++
}

func (s *peerScorer) recordBrokenPromises(p peerid.ID, count int) {
	if count <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokenPromises[p] += float64(count)
}

// recordIP associates a peer with an observed remote IP, moving it off
// any previously recorded IP; scoreLocked counts the other peers sharing
// that IP for the IP-colocation penalty.
func (s *peerScorer) recordIP(p peerid.ID, ip string) {
	if ip == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.peerIP[p]; ok && prev != ip {
		delete(s.ipColocation[prev], p)
	}
	s.peerIP[p] = ip
	peers, ok := s.ipColocation[ip]
	if !ok {
		peers = make(map[peerid.ID]struct{})
		s.ipColocation[ip] = peers
	}
	peers[p] = struct{}{}
}

// score computes a peer's current real-valued score.
func (s *peerScorer) score(p peerid.ID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreLocked(p)
}

func (s *peerScorer) scoreLocked(p peerid.ID) float64 {
	var total float64
	for _, tc := range s.counters[p] {
		total += tc.topicWeight * (s.weights.p1*tc.p1InMesh +
			s.weights.p2*tc.p2FirstDeliver -
			s.weights.p3*tc.p3MeshDeliver -
			s.weights.p3b*tc.p3bMeshFailure -
			s.weights.p4*tc.p4InvalidMsg)
	}
	total -= s.weights.brokenPromise * s.brokenPromises[p]
	if ip, ok := s.peerIP[p]; ok {
		if n := len(s.ipColocation[ip]); n > 1 {
			total -= s.weights.ipColocation * float64(n-1)
		}
	}
	return total
}

// scores returns the score of each peer in peers, for bulk
// mesh-maintenance decisions (shuffle-and-keep-top-D).
func (s *peerScorer) scores(peers []peerid.ID) map[peerid.ID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[peerid.ID]float64, len(peers))
	for _, p := range peers {
		out[p] = s.scoreLocked(p)
	}
	return out
}

// decay applies exponential decay to every counter and global term
func (s *peerScorer) decay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.weights.decay
	for _, perTopic := range s.counters {
		for _, tc := range perTopic {
			tc.p1InMesh *= d
			tc.p2FirstDeliver *= d
			tc.p3MeshDeliver *= d
			tc.p3bMeshFailure *= d
			tc.p4InvalidMsg *= d
		}
	}
	for p := range s.brokenPromises {
		s.brokenPromises[p] *= d
	}
}

func (s *peerScorer) isGraylisted(p peerid.ID, threshold float64) bool {
	return s.score(p) < threshold
}

func (s *peerScorer) forget(p peerid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, p)
	delete(s.brokenPromises, p)
	if ip, ok := s.peerIP[p]; ok {
		delete(s.ipColocation[ip], p)
		delete(s.peerIP, p)
	}
}
