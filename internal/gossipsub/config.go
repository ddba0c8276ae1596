package gossipsub

import "time"

// Authenticity controls what publish() sets on an outgoing message and
// what inbound structural validation requires.
type Authenticity int

const (
	AuthenticitySigned Authenticity = iota
	AuthenticityAuthor
	AuthenticityAnonymous
)

// Config holds every recognized GossipSub tuning option, defaults per
// the configuration reference table.
type Config struct {
	MeshDegree      int // D
	MeshDegreeLow   int // D_low
	MeshDegreeHigh  int // D_high
	GossipDegree    int // D_lazy
	MeshOutboundMin int // D_out

	HeartbeatInterval time.Duration
	FanoutTTL         time.Duration
	SeenTTL           time.Duration
	PruneBackoff      time.Duration

	MessageCacheLen     int // mcache_len
	MessageCacheGossip  int // mcache_gossip
	SeenCacheSize       int
	MaxMessageSize      int
	Authenticity        Authenticity
	ValidateSignatures  bool
	SignMessages        bool
	StrictSigVerify     bool
	MaxSubscriptions    int
	MaxPeersPerTopic    int
	MaxIHaveMessages    int
	MaxIWantMessages    int
	IDontWantTTL        time.Duration
	IDontWantThreshold  int

	OpportunisticGraftTicks     int
	OpportunisticGraftPeers     int
	OpportunisticGraftThreshold float64

	EnablePeerExchange bool
	PrunePeers         int
	AcceptPXThreshold  float64

	IWantFollowupTime time.Duration

	FloodPublish         bool
	FloodPublishMaxPeers int

	// GraylistThreshold is the score below which a peer is excluded from
	// mesh, fanout, and gossip emission.
	GraylistThreshold float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MeshDegree:      6,
		MeshDegreeLow:   4,
		MeshDegreeHigh:  12,
		GossipDegree:    6,
		MeshOutboundMin: 2,

		HeartbeatInterval: time.Second,
		FanoutTTL:         60 * time.Second,
		SeenTTL:           120 * time.Second,
		PruneBackoff:      60 * time.Second,

		MessageCacheLen:    5,
		MessageCacheGossip: 3,
		SeenCacheSize:      10000,
		MaxMessageSize:     1 << 20,
		Authenticity:       AuthenticitySigned,
		ValidateSignatures: true,
		SignMessages:       true,
		StrictSigVerify:    true,
		MaxSubscriptions:   100,
		MaxPeersPerTopic:   1000,
		MaxIHaveMessages:   5000,
		MaxIWantMessages:   5000,
		IDontWantTTL:       3 * time.Second,
		IDontWantThreshold: 1024,

		OpportunisticGraftTicks:     60,
		OpportunisticGraftPeers:     2,
		OpportunisticGraftThreshold: 1.0,

		EnablePeerExchange: false,
		PrunePeers:         0,
		AcceptPXThreshold:  10.0,

		IWantFollowupTime: 3 * time.Second,

		FloodPublish:         true,
		FloodPublishMaxPeers: 25,

		GraylistThreshold: -80.0,
	}
}
