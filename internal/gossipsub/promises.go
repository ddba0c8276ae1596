package gossipsub

import (
	"sync"
	"time"

	"github.com/p2pstack/corenet/internal/peerid"
)

// gossipPromises tracks IWANT followups: for each message id we asked a
// peer for, the instant by which it must arrive before we count it as a
// broken promise.
type gossipPromises struct {
	mu sync.Mutex
	// messageID -> peer -> expiration instant
	promises map[string]map[peerid.ID]time.Time
}

func newGossipPromises() *gossipPromises {
	return &gossipPromises{promises: make(map[string]map[peerid.ID]time.Time)}
}

func (g *gossipPromises) add(messageID string, p peerid.ID, expiresAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	perPeer, ok := g.promises[messageID]
	if !ok {
		perPeer = make(map[peerid.ID]time.Time)
		g.promises[messageID] = perPeer
	}
	if _, exists := perPeer[p]; !exists {
		perPeer[p] = expiresAt
	}
}

// resolve clears every outstanding promise for messageID once the
// message itself arrives.
func (g *gossipPromises) resolve(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.promises, messageID)
}

// getBrokenPromises returns, for each peer, the count of promises that
// expired without the message ever arriving, and removes them from
// tracking.
func (g *gossipPromises) getBrokenPromises(now time.Time) map[peerid.ID]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	broken := make(map[peerid.ID]int)
	for id, perPeer := range g.promises {
		for p, expiresAt := range perPeer {
			if now.After(expiresAt) {
				broken[p]++
				delete(perPeer, p)
			}
		}
		if len(perPeer) == 0 {
			delete(g.promises, id)
		}
	}
	return broken
}
