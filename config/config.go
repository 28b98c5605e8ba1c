// Package config loads the client configuration from YAML and converts it
// into the per-layer configs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"

	"anchorlink/events"
	"anchorlink/rpcx"
)

const fileName = "anchorlink.yaml"

// Config is the on-disk shape. Zero fields fall back to defaults.
type Config struct {
	Endpoint   string `yaml:"endpoint"`
	WSEndpoint string `yaml:"ws_endpoint"`
	Commitment string `yaml:"commitment"` // processed | confirmed | finalized

	Pool struct {
		MinSize       int           `yaml:"min_size"`
		MaxSize       int           `yaml:"max_size"`
		MaxIdle       time.Duration `yaml:"max_idle"`
		BorrowTimeout time.Duration `yaml:"borrow_timeout"`
		SweepEvery    time.Duration `yaml:"sweep_every"`
		ProbeEvery    time.Duration `yaml:"probe_every"`
		Strategy      string        `yaml:"strategy"` // round_robin | least_used | random | weighted
	} `yaml:"pool"`

	Retry struct {
		MaxRetries int           `yaml:"max_retries"`
		BaseDelay  time.Duration `yaml:"base_delay"`
		MaxDelay   time.Duration `yaml:"max_delay"`
		Multiplier float64       `yaml:"multiplier"`
		JitterFrac float64       `yaml:"jitter_frac"`
	} `yaml:"retry"`

	Breaker struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
		Window           time.Duration `yaml:"window"`
	} `yaml:"breaker"`

	Events struct {
		Buffer        int           `yaml:"buffer"`
		ReconnectWait time.Duration `yaml:"reconnect_wait"`
	} `yaml:"events"`

	RateRPS    float64       `yaml:"rate_rps"`
	RateBurst  int           `yaml:"rate_burst"`
	DedupStale time.Duration `yaml:"dedup_stale"`
}

// Default targets a local validator with the library defaults everywhere.
func Default() *Config {
	var cfg Config
	cfg.Endpoint = rpc.LocalNet.RPC
	cfg.WSEndpoint = rpc.LocalNet.WS
	cfg.Commitment = string(rpc.CommitmentConfirmed)
	return &cfg
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrInit loads the config from configDir, writing the defaults first
// when no file exists yet.
func LoadOrInit(configDir string) (*Config, error) {
	path := filepath.Join(configDir, fileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(configDir, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// Save writes the config to configDir.
func Save(configDir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(configDir, fileName), data, 0644)
}

// Validate rejects shapes no layer can run with.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("config: endpoint is required")
	}
	switch c.Commitment {
	case "", string(rpc.CommitmentProcessed), string(rpc.CommitmentConfirmed), string(rpc.CommitmentFinalized):
	default:
		return fmt.Errorf("config: unknown commitment %q", c.Commitment)
	}
	if c.Pool.MaxSize != 0 && c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("config: pool min_size %d exceeds max_size %d", c.Pool.MinSize, c.Pool.MaxSize)
	}
	switch c.Pool.Strategy {
	case "", "round_robin", "least_used", "random", "weighted":
	default:
		return fmt.Errorf("config: unknown pool strategy %q", c.Pool.Strategy)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return fmt.Errorf("config: retry multiplier must be at least 1")
	}
	if c.Retry.JitterFrac < 0 || c.Retry.JitterFrac > 1 {
		return fmt.Errorf("config: jitter_frac must be within [0, 1]")
	}
	return nil
}

// ClientConfig converts to the request layer's config, filling every unset
// field with that layer's default.
func (c *Config) ClientConfig() rpcx.Config {
	out := rpcx.DefaultConfig(c.Endpoint)
	out.WSEndpoint = c.WSEndpoint
	if c.Commitment != "" {
		out.Commitment = rpc.CommitmentType(c.Commitment)
	}

	if c.Pool.MinSize > 0 {
		out.Pool.MinSize = c.Pool.MinSize
	}
	if c.Pool.MaxSize > 0 {
		out.Pool.MaxSize = c.Pool.MaxSize
	}
	if c.Pool.MaxIdle > 0 {
		out.Pool.MaxIdle = c.Pool.MaxIdle
	}
	if c.Pool.BorrowTimeout > 0 {
		out.Pool.BorrowTimeout = c.Pool.BorrowTimeout
	}
	if c.Pool.SweepEvery > 0 {
		out.Pool.SweepInterval = c.Pool.SweepEvery
	}
	if c.Pool.ProbeEvery > 0 {
		out.Pool.ProbeInterval = c.Pool.ProbeEvery
	}
	out.Pool.Strategy = poolStrategy(c.Pool.Strategy)

	if c.Retry.MaxRetries > 0 {
		out.Retry.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.BaseDelay > 0 {
		out.Retry.BaseDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		out.Retry.MaxDelay = c.Retry.MaxDelay
	}
	if c.Retry.Multiplier > 0 {
		out.Retry.Multiplier = c.Retry.Multiplier
	}
	if c.Retry.JitterFrac > 0 {
		out.Retry.JitterFrac = c.Retry.JitterFrac
	}

	if c.Breaker.FailureThreshold > 0 {
		out.Breaker.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.SuccessThreshold > 0 {
		out.Breaker.SuccessThreshold = c.Breaker.SuccessThreshold
	}
	if c.Breaker.RecoveryTimeout > 0 {
		out.Breaker.RecoveryTimeout = c.Breaker.RecoveryTimeout
	}
	if c.Breaker.Window > 0 {
		out.Breaker.Window = c.Breaker.Window
	}

	if c.RateRPS > 0 {
		out.RateRPS = c.RateRPS
	}
	if c.RateBurst > 0 {
		out.RateBurst = c.RateBurst
	}
	if c.DedupStale > 0 {
		out.DedupStale = c.DedupStale
	}
	return out
}

// SubscribeConfig converts to the event feed's config.
func (c *Config) SubscribeConfig() events.SubscribeConfig {
	out := events.DefaultSubscribeConfig()
	if c.Events.Buffer > 0 {
		out.Buffer = c.Events.Buffer
	}
	if c.Events.ReconnectWait > 0 {
		out.ReconnectWait = c.Events.ReconnectWait
	}
	return out
}

func poolStrategy(name string) rpcx.Strategy {
	switch name {
	case "least_used":
		return rpcx.LeastUsed
	case "random":
		return rpcx.Random
	case "weighted":
		return rpcx.Weighted
	default:
		return rpcx.RoundRobin
	}
}
