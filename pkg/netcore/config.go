package netcore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the yaml-tagged configuration this core needs. It is
// deliberately narrow compared to the full node configuration an embedder
// carries. Nothing in this package reads a Config: NewComposite and the
// sub-behaviours use the package constants DefaultConfig is built from.
type Config struct {
	Gossip   GossipConfig   `yaml:"gossip"`
	RPC      RPCConfig      `yaml:"rpc"`
	Identify IdentifyConfig `yaml:"identify"`
	PeerMgr  PeerMgrConfig  `yaml:"peer_manager"`
}

// GossipConfig tunes the gossip adapter.
type GossipConfig struct {
	SeenCacheSize int `yaml:"seen_cache_size"`
}

// RPCConfig tunes the RPC behaviour.
type RPCConfig struct {
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

// IdentifyConfig tunes the identify adapter.
type IdentifyConfig struct {
	MaxAddresses int `yaml:"max_addresses"`
}

// PeerMgrConfig tunes the peer manager's reconnect/ping cadence.
type PeerMgrConfig struct {
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	PingInterval      time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns the constants spec.md fixes: a 30s RPC timeout, a
// 100_000-entry seen-gossip cache, and MAX_IDENTIFY_ADDRESSES=10.
func DefaultConfig() Config {
	return Config{
		Gossip:   GossipConfig{SeenCacheSize: seenGossipCacheSize},
		RPC:      RPCConfig{StreamTimeout: 30 * time.Second},
		Identify: IdentifyConfig{MaxAddresses: MaxIdentifyAddresses},
		PeerMgr: PeerMgrConfig{
			ReconnectInterval: reconnectInterval,
			BackoffBase:       backoffBase,
			BackoffMax:        backoffMax,
			PingInterval:      pingInterval,
		},
	}
}

// LoadConfig reads and decodes a yaml config file, starting from
// DefaultConfig so unset fields keep their spec-mandated defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
