// Package config loads ~/.txwatch/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/txwatch/internal/alert"
	"github.com/ppiankov/txwatch/internal/analysis"
	"github.com/ppiankov/txwatch/internal/store"
)

// Default listen addresses. All are loopback.
const (
	DefaultProxyAddr = "127.0.0.1:8545"
	DefaultRelayAddr = "127.0.0.1:9745"
	DefaultAPIAddr   = "127.0.0.1:7545"
	DefaultPanelAddr = "127.0.0.1:9746"
)

// ProxyConfig configures the page-side JSON-RPC endpoint.
type ProxyConfig struct {
	Addr        string            `yaml:"addr"`
	Upstream    string            `yaml:"upstream"`
	Secondaries map[string]string `yaml:"secondaries"` // name -> upstream URL
	Headers     map[string]string `yaml:"headers"`
	ContextID   string            `yaml:"context_id"`
	RateLimit   float64           `yaml:"rate_limit"` // reviewable calls per second per origin, 0 disables
	Burst       int               `yaml:"burst"`
	// ApprovalTimeout is how long a held call waits for a human decision.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
	// UpstreamTimeout bounds each HTTP request to the wallet.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	// ExtraMethods are exact method names reviewed in addition to the built-in list.
	ExtraMethods []string `yaml:"extra_methods"`
}

// RelayConfig configures the coordinator's relay hub.
type RelayConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// CoordinatorConfig configures pending and history handling.
type CoordinatorConfig struct {
	DiscardHistory  bool          `yaml:"discard_history"`
	HistoryCapacity int           `yaml:"history_capacity"`
	PendingTTL      time.Duration `yaml:"pending_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// AuditConfig configures the hash-chained decision log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full txwatch configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Store       store.Config      `yaml:"store"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Relay       RelayConfig       `yaml:"relay"`
	APIAddr     string            `yaml:"api_addr"`
	PanelAddr   string            `yaml:"panel_addr"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	Analysis    analysis.Config   `yaml:"analysis"`
	Audit       AuditConfig       `yaml:"audit"`
	Alerts      []alert.Config    `yaml:"alerts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Store:    store.Config{Driver: "file"},
		Coordinator: CoordinatorConfig{
			HistoryCapacity: 100,
			PendingTTL:      5*time.Minute + 30*time.Second,
			SweepInterval:   30 * time.Second,
		},
		Relay:     RelayConfig{Addr: DefaultRelayAddr},
		APIAddr:   DefaultAPIAddr,
		PanelAddr: DefaultPanelAddr,
		Proxy: ProxyConfig{
			Addr:            DefaultProxyAddr,
			ApprovalTimeout: 5 * time.Minute,
			UpstreamTimeout: 30 * time.Second,
		},
		Analysis: analysis.Config{Backend: analysis.BackendHeuristic, CacheSize: 256},
		Audit:    AuditConfig{Enabled: true},
	}
}

// DefaultPath returns ~/.txwatch/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".txwatch", "config.yaml")
	}
	return filepath.Join(home, ".txwatch", "config.yaml")
}

// Load reads the configuration at path. Empty path uses DefaultPath.
// A missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would fail at startup.
func (c *Config) Validate() error {
	if c.Coordinator.HistoryCapacity < 0 {
		return fmt.Errorf("coordinator.history_capacity must not be negative")
	}
	if c.Proxy.ApprovalTimeout < 0 {
		return fmt.Errorf("proxy.approval_timeout must not be negative")
	}
	if c.Proxy.UpstreamTimeout < 0 {
		return fmt.Errorf("proxy.upstream_timeout must not be negative")
	}
	if c.Proxy.RateLimit < 0 {
		return fmt.Errorf("proxy.rate_limit must not be negative")
	}
	for name := range c.Proxy.Secondaries {
		if name == "" {
			return fmt.Errorf("proxy.secondaries: empty provider name")
		}
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("alerts[%d]: url is required", i)
		}
	}
	return nil
}

// DefaultYAML returns a commented configuration for txwatch init.
func DefaultYAML() string {
	return `# txwatch configuration
# Generated by: txwatch init

log_level: info

# Where pending calls, history and the badge are persisted.
# driver: file | memory | sqlite | redis
store:
  driver: file
  # path: ~/.txwatch/store
  # redis_addr: 127.0.0.1:6379

coordinator:
  # Decided calls are kept in history unless discard_history is set.
  discard_history: false
  history_capacity: 100
  # Pending calls older than this are retired by the sweeper.
  pending_ttl: 5m30s
  sweep_interval: 30s

# Page contexts connect here. Loopback only.
relay:
  addr: 127.0.0.1:9745
  # token: shared-secret

api_addr: 127.0.0.1:7545
panel_addr: 127.0.0.1:9746

proxy:
  addr: 127.0.0.1:8545
  upstream: http://127.0.0.1:8546
  # How long a held call waits for a decision.
  approval_timeout: 5m
  # Per-request limit for calls to the upstream wallet.
  upstream_timeout: 30s
  rate_limit: 0
  burst: 5
  # Exact method names reviewed in addition to the built-in list.
  extra_methods: []

# Advisory risk analysis. backend: heuristic | openai | bedrock
analysis:
  backend: heuristic
  # api_url: https://api.openai.com/v1/chat/completions
  # model: gpt-4o-mini
  # region: us-east-1
  cache_size: 256
  fallback: true

audit:
  enabled: true
  # path: ~/.txwatch/audit.jsonl

# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack
#     events: [pending, expired]
`
}
