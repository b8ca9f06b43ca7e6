// Package config loads, validates, and persists the node's JSON configuration
// documents: bootstrap peers, direct-message/relay policy, swarm/network
// limits, and the unified document that ties them together.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/storynode/core/internal/util"
)

// Config is the unified configuration document persisted as a single JSON
// file, mirroring the per-area documents the spec's storage layout names
// (bootstrap, direct-message, network, unified).
type Config struct {
	Identity  Identity  `json:"identity"`
	Network   Network   `json:"network"`
	Bootstrap Bootstrap `json:"bootstrap"`
	Relay     Relay     `json:"relay"`
	Breaker   Breaker   `json:"breaker"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

// Network holds the Protocol Behaviour Composition's configuration envelope
// (spec.md §4.2).
type Network struct {
	ListenPort               int `json:"listen_port"`
	RequestTimeoutSeconds    int `json:"request_timeout_seconds"`
	MaxConcurrentStreams     int `json:"max_concurrent_streams"`
	MaxConnectionsPerPeer    int `json:"max_connections_per_peer"`
	MaxEstablishedTotal      int `json:"max_established_total"`
	MaxPendingOutgoing       int `json:"max_pending_outgoing"`
	PingIntervalSecs         int `json:"ping_interval_secs"`
	PingTimeoutSecs          int `json:"ping_timeout_secs"`
	IdleConnectionTimeoutSec int `json:"idle_connection_timeout_secs"`
}

// Bootstrap holds the Bootstrap Controller's retry policy (spec.md §4.5).
type Bootstrap struct {
	Enabled           bool     `json:"enabled"`
	Peers             []string `json:"peers"`
	RetryIntervalSecs int      `json:"retry_interval_secs"`
	BackoffMultiplier float64  `json:"backoff_multiplier"`
	MaxRetryAttempts  int      `json:"max_retry_attempts"`
	MaxRetryDelaySecs int      `json:"max_retry_delay_secs"`
}

// Relay holds the Direct Message + Relay engine's policy (spec.md §4.3).
type Relay struct {
	MaxMessageSize    int     `json:"max_message_size"`
	MaxHops           int     `json:"max_hops"`
	RateLimitPerPeer  int     `json:"rate_limit_per_peer"`
	MaxRetryAttempts  int     `json:"max_retry_attempts"`
	DMRetryIntervalS  int     `json:"dm_retry_interval_secs"`
	ForwardingEnabled bool    `json:"forwarding_enabled"`
	EnvelopeMaxAgeS   float64 `json:"envelope_max_age_secs"`
}

// Breaker holds per-operation circuit breaker thresholds (spec.md §4.7).
type Breaker struct {
	FailureThreshold int     `json:"failure_threshold"`
	SuccessThreshold int     `json:"success_threshold"`
	TimeoutSecs      float64 `json:"timeout_secs"`
	OperationTimeout float64 `json:"operation_timeout_secs"`
}

func Default() Config {
	return Config{
		Identity: Identity{KeyFile: "data/identity.key"},
		Network: Network{
			ListenPort:               0,
			RequestTimeoutSeconds:    30,
			MaxConcurrentStreams:     16,
			MaxConnectionsPerPeer:    4,
			MaxEstablishedTotal:      128,
			MaxPendingOutgoing:       64,
			PingIntervalSecs:         15,
			PingTimeoutSecs:          20,
			IdleConnectionTimeoutSec: 60,
		},
		Bootstrap: Bootstrap{
			Enabled:           true,
			Peers:             nil,
			RetryIntervalSecs: 30,
			BackoffMultiplier: 1.5,
			MaxRetryAttempts:  8,
			MaxRetryDelaySecs: 300,
		},
		Relay: Relay{
			MaxMessageSize:    8192,
			MaxHops:           3,
			RateLimitPerPeer:  10,
			MaxRetryAttempts:  5,
			DMRetryIntervalS:  30,
			ForwardingEnabled: true,
			EnvelopeMaxAgeS:   300,
		},
		Breaker: Breaker{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			TimeoutSecs:      30,
			OperationTimeout: 10,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if c.Network.ListenPort < 0 || c.Network.ListenPort > 65535 {
		return errors.New("network.listen_port must be 0..65535")
	}
	if c.Network.RequestTimeoutSeconds <= 0 {
		return errors.New("network.request_timeout_seconds must be > 0")
	}
	if c.Network.MaxConcurrentStreams <= 0 {
		return errors.New("network.max_concurrent_streams must be > 0")
	}
	if c.Bootstrap.BackoffMultiplier <= 1.0 {
		return errors.New("bootstrap.backoff_multiplier must be > 1.0")
	}
	if c.Bootstrap.MaxRetryAttempts <= 0 {
		return errors.New("bootstrap.max_retry_attempts must be > 0")
	}
	if c.Relay.MaxHops < 1 || c.Relay.MaxHops > 10 {
		return errors.New("relay.max_hops must be 1..10")
	}
	if c.Relay.MaxMessageSize <= 0 {
		return errors.New("relay.max_message_size must be > 0")
	}
	if c.Relay.RateLimitPerPeer <= 0 {
		return errors.New("relay.rate_limit_per_peer must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 || c.Breaker.SuccessThreshold <= 0 {
		return errors.New("breaker thresholds must be > 0")
	}
	return nil
}

// RetryDelay returns the configured exponential backoff delay for attempt k
// (1-indexed), capped at MaxRetryDelaySecs.
func (b Bootstrap) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.RetryIntervalSecs)
	for i := 1; i < attempt; i++ {
		delay *= b.BackoffMultiplier
	}
	capSecs := float64(b.MaxRetryDelaySecs)
	if capSecs <= 0 {
		capSecs = 300
	}
	if delay > capSecs {
		delay = capSecs
	}
	return time.Duration(delay * float64(time.Second))
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
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

// Watch starts an fsnotify watcher on path and invokes onChange with the
// freshly reloaded config whenever the file is written. Reload errors are
// swallowed — the previous valid config stays in effect (spec.md §7: storage
// and config errors never take down the loop).
func Watch(path string, onChange func(Config)) (io.Closer, error) {
	return newWatcher(path, onChange)
}
