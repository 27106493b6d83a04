package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCLIConfigDir returns the default config directory (~/.aktibguard).
func DefaultCLIConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".aktibguard"), nil
}

// DefaultCLIConfigPath returns the default config file path (~/.aktibguard/config.yml).
func DefaultCLIConfigPath() (string, error) {
	dir, err := DefaultCLIConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// CLIConfig holds the operator CLI's settings.
type CLIConfig struct {
	ServerURL string        `yaml:"server_url,omitempty"`
	AgentID   string        `yaml:"agent_id,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Proxy     *ProxyConfig  `yaml:"proxy,omitempty"`
}

// ProxyConfig routes CLI traffic through an HTTP(S) or SOCKS5 proxy.
// SOCKS5 wins when both kinds are set.
type ProxyConfig struct {
	HTTPProxy   string `yaml:"http_proxy,omitempty"`
	HTTPSProxy  string `yaml:"https_proxy,omitempty"`
	NoProxy     string `yaml:"no_proxy,omitempty"`
	SOCKS5Proxy string `yaml:"socks5_proxy,omitempty"`
}

// HasProxy reports whether any proxy is set.
func (p *ProxyConfig) HasProxy() bool {
	return p != nil && (p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != "")
}

// Validate checks that the configuration can reach a server.
func (c *CLIConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q is not an absolute URL", c.ServerURL)
	}
	return nil
}

// IsConfigured returns true if a server has been set.
func (c *CLIConfig) IsConfigured() bool {
	return c.ServerURL != ""
}

// LoadCLI reads the configuration from the given path.
// If the file does not exist, an empty config is returned.
func LoadCLI(path string) (*CLIConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *CLIConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
