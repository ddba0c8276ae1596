package gossipsub

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/p2pstack/corenet/internal/gossipsub/pb"
	"github.com/p2pstack/corenet/internal/peerid"
)

type cachedMessage struct {
	msg        *pb.Message
	originator peerid.ID
}

// messageCache is a sliding window of the last mcache_len heartbeats of
// messages, indexed by message id, with a secondary originator index for
// IWANT service.
type messageCache struct {
	mu        sync.Mutex
	windows   []map[string]cachedMessage // windows[0] is the current (most recent) heartbeat
	maxLen    int
	gossipLen int
}

func newMessageCache(maxLen, gossipLen int) *messageCache {
	if maxLen < 1 {
		maxLen = 1
	}
	return &messageCache{
		windows:   []map[string]cachedMessage{make(map[string]cachedMessage)},
		maxLen:    maxLen,
		gossipLen: gossipLen,
	}
}

func (c *messageCache) put(id string, msg *pb.Message, originator peerid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[0][id] = cachedMessage{msg: msg, originator: originator}
}

func (c *messageCache) get(id string) (*pb.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		if cm, ok := w[id]; ok {
			return cm.msg, true
		}
	}
	return nil, false
}

func (c *messageCache) originator(id string) (peerid.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.windows {
		if cm, ok := w[id]; ok {
			return cm.originator, true
		}
	}
	return peerid.ID{}, false
}

// gossipIDs returns the ids of messages on topic seen in the last
// mcache_gossip heartbeats, for IHAVE emission.
func (c *messageCache) gossipIDs(topic string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.gossipLen
	if n > len(c.windows) {
		n = len(c.windows)
	}
	var ids []string
	for i := 0; i < n; i++ {
		for id, cm := range c.windows[i] {
			if cm.msg.Topic == topic {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// shift advances the window: a fresh heartbeat bucket becomes current,
// and buckets beyond mcache_len are dropped.
func (c *messageCache) shift() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = append([]map[string]cachedMessage{make(map[string]cachedMessage)}, c.windows...)
	if len(c.windows) > c.maxLen {
		c.windows = c.windows[:c.maxLen]
	}
}

// seenCache is a bounded, TTL-expiring set of message ids used for
// deduplication only.
type seenCache struct {
	lru *expirable.LRU[string, struct{}]
}

func newSeenCache(size int, ttl time.Duration) *seenCache {
	return &seenCache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (s *seenCache) contains(id string) bool {
	return s.lru.Contains(id)
}

func (s *seenCache) add(id string) {
	s.lru.Add(id, struct{}{})
}
