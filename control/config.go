// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Daemon configuration file and reloadable snapshot store.

package control

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// EndpointConfig describes one listening socket.
type EndpointConfig struct {
	Name     string `yaml:"name"`
	Addr     string `yaml:"addr"`
	Protocol string `yaml:"protocol"`
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	// Script is an optional worker started per connection; connection
	// payload is relayed to it instead of being echoed.
	Script string `yaml:"script"`
}

// LogConfig selects the slog level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the daemon configuration file.
type Config struct {
	Endpoints   []EndpointConfig `yaml:"endpoints"`
	MetricsAddr string           `yaml:"metrics_addr"`
	MaxClients  int              `yaml:"max_clients"`
	IdleTimeout time.Duration    `yaml:"idle_timeout"`

	// AcceptRate limits new connections per second on each listener;
	// zero disables the limit.
	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`

	Log LogConfig `yaml:"log"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Endpoints: []EndpointConfig{
			{Name: "default", Addr: "127.0.0.1:8080", Protocol: "http"},
		},
		MetricsAddr: "127.0.0.1:9090",
		IdleTimeout: 60 * time.Second,
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks fields the daemon cannot start without.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("config: at least one endpoint is required")
	}
	for i, ep := range c.Endpoints {
		if ep.Addr == "" {
			return fmt.Errorf("config: endpoint %d: addr is required", i)
		}
		switch ep.Protocol {
		case "http", "ws":
		case "https", "wss":
			if ep.Cert == "" || ep.Key == "" {
				return fmt.Errorf("config: endpoint %q: %s requires cert and key", ep.Addr, ep.Protocol)
			}
		default:
			return fmt.Errorf("config: endpoint %q: unknown protocol %q", ep.Addr, ep.Protocol)
		}
	}
	if c.MaxClients < 0 {
		return errors.New("config: max_clients must not be negative")
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return errors.New("config: accept_rate and accept_burst must not be negative")
	}
	return nil
}

// ParseConfig decodes YAML on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ConfigStore holds the active configuration and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)
}

// NewConfigStore initializes a store with cfg (DefaultConfig when nil).
func NewConfigStore(cfg *Config) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &ConfigStore{config: cfg}
}

// Snapshot returns the active configuration. Callers must not mutate it.
func (cs *ConfigStore) Snapshot() *Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set replaces the configuration and runs every listener synchronously.
func (cs *ConfigStore) Set(cfg *Config) {
	cs.mu.Lock()
	cs.config = cfg
	listeners := append([]func(*Config){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Reload loads path and applies it; the old snapshot stays on error.
func (cs *ConfigStore) Reload(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	cs.Set(cfg)
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(*Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
