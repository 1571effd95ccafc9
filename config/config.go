// Package config owns the on-disk application configuration (transport
// selection, default provider and model) and a file-backed implementation
// of the session.Store persistence contract.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/okapi-tools/switchboard/driver"
	"github.com/okapi-tools/switchboard/paths"
	"github.com/okapi-tools/switchboard/runner"
)

// TransportMode selects which Runner implementation threads run on.
type TransportMode string

const (
	TransportLocal TransportMode = "local"
	TransportWSL   TransportMode = "wsl"
	TransportSSH   TransportMode = "ssh"
)

// SSHConfig holds remote transport connection parameters.
type SSHConfig struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	KeyPath string `yaml:"key_path,omitempty"`
}

// TransportConfig selects and parameterizes the transport.
type TransportConfig struct {
	Mode   TransportMode `yaml:"mode"`
	Distro string        `yaml:"distro,omitempty"` // wsl only; empty uses the default distro
	SSH    SSHConfig     `yaml:"ssh,omitempty"`
}

// Config is the application configuration, stored as YAML under the user
// config directory.
type Config struct {
	Transport       TransportConfig `yaml:"transport"`
	DefaultProvider driver.Provider `yaml:"default_provider,omitempty"`
	DefaultModel    string          `yaml:"default_model,omitempty"`
	// Preamble is a shell bootstrap sourced before every agent invocation
	// (PATH setup, version managers).
	Preamble string `yaml:"preamble,omitempty"`
	Debug    bool   `yaml:"debug,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// Load reads the config from disk, or returns defaults if none exists yet.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	cfg := &Config{
		Transport:       TransportConfig{Mode: TransportLocal},
		DefaultProvider: driver.ProviderClaude,
		filePath:        path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = TransportLocal
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = driver.ProviderClaude
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.Transport.Mode {
	case TransportLocal, TransportWSL:
	case TransportSSH:
		if c.Transport.SSH.Host == "" {
			return fmt.Errorf("ssh transport requires a host")
		}
	default:
		return fmt.Errorf("unknown transport mode %q", c.Transport.Mode)
	}

	if c.DefaultProvider != "" {
		known := false
		for _, p := range driver.Providers {
			if p == c.DefaultProvider {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown provider %q", c.DefaultProvider)
		}
	}
	return nil
}

// SetTransport replaces the transport selection.
func (c *Config) SetTransport(t TransportConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transport = t
}

// GetTransport returns the current transport selection.
func (c *Config) GetTransport() TransportConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Transport
}

// BuildRunner constructs the Runner the current transport selection
// describes.
func (c *Config) BuildRunner() (runner.Runner, error) {
	t := c.GetTransport()
	switch t.Mode {
	case TransportLocal:
		return runner.NewLocal(), nil
	case TransportWSL:
		return runner.NewWSL(t.Distro), nil
	case TransportSSH:
		if t.SSH.Host == "" {
			return nil, fmt.Errorf("ssh transport requires a host")
		}
		return runner.NewSSH(t.SSH.Host, t.SSH.User, t.SSH.Port, t.SSH.KeyPath), nil
	}
	return nil, fmt.Errorf("unknown transport mode %q", t.Mode)
}
