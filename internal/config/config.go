package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config carries the SDK and CLI settings.
type Config struct {
	// ServerURL is the base URL of the GANN directory service.
	ServerURL string `yaml:"server_url"`
	// APIKey authenticates directory HTTP requests (GANN-API-KEY).
	APIKey string `yaml:"api_key"`
	// AgentID is the local agent's directory id (GANN-AGENT-ID).
	AgentID string `yaml:"agent_id"`

	// DirectTimeoutMs is the deadline for direct QUIC accept/connect.
	DirectTimeoutMs int `yaml:"direct_timeout_ms"`
	// DirectBindAddr is the local UDP bind for direct QUIC.
	DirectBindAddr string `yaml:"direct_bind_addr"`
	// RelayBindAddr is the local UDP bind for the relay transport.
	RelayBindAddr string `yaml:"relay_bind_addr"`
	// OfferTimeoutMs bounds the accept-loop wait for inbound offers.
	OfferTimeoutMs int `yaml:"offer_timeout_ms"`

	// GannHome is the directory where local state lives.
	GannHome string `yaml:"-"`
	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`
	// LogLevel overrides the log verbosity (trace|debug|info|warn|error).
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from ~/.gann/config.yaml (when present) and the
// environment, with the environment winning.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	gannHome := os.Getenv("GANN_HOME_DIR")
	if gannHome == "" {
		gannHome = filepath.Join(homeDir, ".gann")
	}
	if err := os.MkdirAll(gannHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create gann home: %w", err)
	}

	cfg := &Config{
		ServerURL:       "https://directory.gann.dev",
		DirectTimeoutMs: 5000,
		DirectBindAddr:  "0.0.0.0:0",
		RelayBindAddr:   "0.0.0.0:0",
		OfferTimeoutMs:  30000,
		GannHome:        gannHome,
	}

	if err := cfg.loadFile(filepath.Join(gannHome, "config.yaml")); err != nil {
		return nil, err
	}
	cfg.loadEnv()

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is not configured (set GANN_SERVER_URL)")
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("GANN_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("GANN_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("GANN_AGENT_ID"); v != "" {
		c.AgentID = v
	}
	if v := os.Getenv("GANN_DIRECT_BIND_ADDR"); v != "" {
		c.DirectBindAddr = v
	}
	if v := os.Getenv("GANN_RELAY_BIND_ADDR"); v != "" {
		c.RelayBindAddr = v
	}
	if v := os.Getenv("GANN_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GANN_DEBUG"); v == "true" || v == "1" {
		c.Debug = true
	}
	if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		c.Debug = true
	}
}
