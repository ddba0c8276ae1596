// Package config loads and defaults the JSON configuration consumed by
// cmd/p2pcore: identity, transport listen addresses, and the GossipSub
// and Relay tuning tables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/p2pstack/corenet/internal/gossipsub"
	"github.com/p2pstack/corenet/internal/mplex"
	"github.com/p2pstack/corenet/internal/relay"
	"github.com/p2pstack/corenet/internal/util"
)

type Config struct {
	Identity  Identity        `json:"identity"`
	Listen    Listen          `json:"listen"`
	GossipSub GossipSubTuning `json:"gossipsub"`
	Relay     RelayTuning     `json:"relay"`
	Mplex     MplexTuning     `json:"mplex"`
	Log       Log             `json:"log"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

// Listen holds the multiaddr-style listen addresses this node's
// transports bind to. cmd/p2pcore binds only TCPAddr and refuses to start
// when it is empty; WSAddr is not bound by cmd/p2pcore.
type Listen struct {
	TCPAddr string `json:"tcp_addr"`
	WSAddr  string `json:"ws_addr"`
}

// GossipSubTuning mirrors gossipsub.Config, expressed in JSON-friendly
// units (durations as seconds) so the file stays easy to hand-edit and
// to hot-reload via internal/configwatch.
type GossipSubTuning struct {
	MeshDegree      int `json:"mesh_degree"`
	MeshDegreeLow   int `json:"mesh_degree_low"`
	MeshDegreeHigh  int `json:"mesh_degree_high"`
	GossipDegree    int `json:"gossip_degree"`
	MeshOutboundMin int `json:"mesh_outbound_min"`

	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"`
	FanoutTTLSec         int `json:"fanout_ttl_sec"`
	SeenTTLSec           int `json:"seen_ttl_sec"`
	PruneBackoffSec      int `json:"prune_backoff_sec"`

	MessageCacheLen    int  `json:"message_cache_len"`
	MessageCacheGossip int  `json:"message_cache_gossip"`
	SeenCacheSize      int  `json:"seen_cache_size"`
	MaxMessageSize     int  `json:"max_message_size"`
	StrictSigVerify    bool `json:"strict_signature_verification"`

	EnablePeerExchange bool `json:"enable_peer_exchange"`
}

func (t GossipSubTuning) toRouterConfig(base gossipsub.Config) gossipsub.Config {
	base.MeshDegree = t.MeshDegree
	base.MeshDegreeLow = t.MeshDegreeLow
	base.MeshDegreeHigh = t.MeshDegreeHigh
	base.GossipDegree = t.GossipDegree
	base.MeshOutboundMin = t.MeshOutboundMin
	base.HeartbeatInterval = time.Duration(t.HeartbeatIntervalSec) * time.Second
	base.FanoutTTL = time.Duration(t.FanoutTTLSec) * time.Second
	base.SeenTTL = time.Duration(t.SeenTTLSec) * time.Second
	base.PruneBackoff = time.Duration(t.PruneBackoffSec) * time.Second
	base.MessageCacheLen = t.MessageCacheLen
	base.MessageCacheGossip = t.MessageCacheGossip
	base.SeenCacheSize = t.SeenCacheSize
	base.MaxMessageSize = t.MaxMessageSize
	base.StrictSigVerify = t.StrictSigVerify
	base.EnablePeerExchange = t.EnablePeerExchange
	return base
}

// RouterConfig resolves the full gossipsub.Config, applying the tuning
// overrides on top of gossipsub.DefaultConfig's untuned fields.
func (c Config) RouterConfig() gossipsub.Config {
	return c.GossipSub.toRouterConfig(gossipsub.DefaultConfig())
}

// RelayTuning mirrors relay.Config in JSON-friendly units.
type RelayTuning struct {
	MaxReservations            int    `json:"max_reservations"`
	MaxCircuitsPerPeer         int    `json:"max_circuits_per_peer"`
	ReservationLifetimeSec     int    `json:"reservation_lifetime_sec"`
	DataLimitPerCircuit        uint64 `json:"data_limit_per_circuit"`
	DurationLimitPerCircuitSec int    `json:"duration_limit_per_circuit_sec"`
	AutoRenewReservations      bool   `json:"auto_renew_reservations"`
	ListenerQueueCap           int    `json:"listener_queue_cap"`
	RenewalLeadTimeSec         int    `json:"renewal_lead_time_sec"`
}

func (c Config) RelayConfig() relay.Config {
	return relay.Config{
		MaxReservations:         c.Relay.MaxReservations,
		MaxCircuitsPerPeer:      c.Relay.MaxCircuitsPerPeer,
		ReservationLifetime:     time.Duration(c.Relay.ReservationLifetimeSec) * time.Second,
		DataLimitPerCircuit:     c.Relay.DataLimitPerCircuit,
		DurationLimitPerCircuit: time.Duration(c.Relay.DurationLimitPerCircuitSec) * time.Second,
		AutoRenewReservations:   c.Relay.AutoRenewReservations,
		ListenerQueueCap:        c.Relay.ListenerQueueCap,
		RenewalLeadTime:         time.Duration(c.Relay.RenewalLeadTimeSec) * time.Second,
	}
}

// MplexTuning mirrors mplex.Config.
type MplexTuning struct {
	MaxFrameSize         int `json:"max_frame_size"`
	MaxBufferedPerStream int `json:"max_buffered_per_stream"`
	AcceptQueueCap       int `json:"accept_queue_cap"`
}

func (c Config) MplexConfig() mplex.Config {
	return mplex.Config{
		MaxFrameSize:         c.Mplex.MaxFrameSize,
		MaxBufferedPerStream: c.Mplex.MaxBufferedPerStream,
		AcceptQueueCap:       c.Mplex.AcceptQueueCap,
	}
}

// Log controls per-subsystem log levels rather than a single global
// level.
type Log struct {
	Level      string            `json:"level"`
	Subsystems map[string]string `json:"subsystems"`
}

func Default() Config {
	gs := gossipsub.DefaultConfig()
	rl := relay.DefaultConfig()
	mp := mplex.DefaultConfig()
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		Listen: Listen{
			TCPAddr: "/ip4/0.0.0.0/tcp/0",
			WSAddr:  "",
		},
		GossipSub: GossipSubTuning{
			MeshDegree:           gs.MeshDegree,
			MeshDegreeLow:        gs.MeshDegreeLow,
			MeshDegreeHigh:       gs.MeshDegreeHigh,
			GossipDegree:         gs.GossipDegree,
			MeshOutboundMin:      gs.MeshOutboundMin,
			HeartbeatIntervalSec: int(gs.HeartbeatInterval / time.Second),
			FanoutTTLSec:         int(gs.FanoutTTL / time.Second),
			SeenTTLSec:           int(gs.SeenTTL / time.Second),
			PruneBackoffSec:      int(gs.PruneBackoff / time.Second),
			MessageCacheLen:      gs.MessageCacheLen,
			MessageCacheGossip:   gs.MessageCacheGossip,
			SeenCacheSize:        gs.SeenCacheSize,
			MaxMessageSize:       gs.MaxMessageSize,
			StrictSigVerify:      gs.StrictSigVerify,
			EnablePeerExchange:   gs.EnablePeerExchange,
		},
		Relay: RelayTuning{
			MaxReservations:            rl.MaxReservations,
			MaxCircuitsPerPeer:         rl.MaxCircuitsPerPeer,
			ReservationLifetimeSec:     int(rl.ReservationLifetime / time.Second),
			DataLimitPerCircuit:        rl.DataLimitPerCircuit,
			DurationLimitPerCircuitSec: int(rl.DurationLimitPerCircuit / time.Second),
			AutoRenewReservations:      rl.AutoRenewReservations,
			ListenerQueueCap:           rl.ListenerQueueCap,
			RenewalLeadTimeSec:         int(rl.RenewalLeadTime / time.Second),
		},
		Mplex: MplexTuning{
			MaxFrameSize:         mp.MaxFrameSize,
			MaxBufferedPerStream: mp.MaxBufferedPerStream,
			AcceptQueueCap:       mp.AcceptQueueCap,
		},
		Log: Log{
			Level:      "info",
			Subsystems: map[string]string{},
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if strings.TrimSpace(c.Listen.TCPAddr) == "" && strings.TrimSpace(c.Listen.WSAddr) == "" {
		return errors.New("at least one of listen.tcp_addr or listen.ws_addr is required")
	}

	g := c.GossipSub
	if g.MeshDegreeLow > g.MeshDegree || g.MeshDegree > g.MeshDegreeHigh {
		return errors.New("gossipsub: require mesh_degree_low <= mesh_degree <= mesh_degree_high")
	}
	if g.MeshOutboundMin > g.MeshDegreeLow {
		return errors.New("gossipsub: mesh_outbound_min must be <= mesh_degree_low")
	}
	if g.HeartbeatIntervalSec <= 0 {
		return errors.New("gossipsub.heartbeat_interval_sec must be > 0")
	}
	if g.MaxMessageSize <= 0 {
		return errors.New("gossipsub.max_message_size must be > 0")
	}

	r := c.Relay
	if r.ListenerQueueCap <= 0 {
		return errors.New("relay.listener_queue_cap must be > 0")
	}
	if r.AutoRenewReservations && r.RenewalLeadTimeSec <= 0 {
		return errors.New("relay.renewal_lead_time_sec must be > 0 when auto_renew_reservations is enabled")
	}
	if r.ReservationLifetimeSec <= r.RenewalLeadTimeSec {
		return errors.New("relay.reservation_lifetime_sec must exceed relay.renewal_lead_time_sec")
	}

	m := c.Mplex
	if m.AcceptQueueCap <= 0 {
		return errors.New("mplex.accept_queue_cap must be > 0")
	}
	if m.MaxFrameSize <= 0 {
		return errors.New("mplex.max_frame_size must be > 0")
	}

	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
