// Package config provides configuration loading and management for the
// Lisa/Alex agent runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete runtime configuration.
type Config struct {
	Server Server       `yaml:"server"`
	AI     []AIEndpoint `yaml:"ai"`
	Limits Limits       `yaml:"limits"`
	NATS   NATSConfig   `yaml:"nats"`
	Assets AssetsConfig `yaml:"assets"`
	DB     DBConfig     `yaml:"db"`
}

// Server configures the HTTP listener.
type Server struct {
	// Addr is the listen address (host:port)
	Addr string `yaml:"addr"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AIEndpoint configures one chat-completion endpoint.
// Exactly one endpoint should be marked Default.
type AIEndpoint struct {
	// Name identifies the endpoint in logs
	Name string `yaml:"name"`
	// APIKey is the bearer token for the endpoint
	APIKey string `yaml:"api_key"`
	// BaseURL is the API base, stored raw; normalization happens in llm
	BaseURL string `yaml:"base_url"`
	// Model is the model name sent upstream
	Model string `yaml:"model"`
	// Default marks this endpoint as the one the runtime uses
	Default bool `yaml:"default"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// Limits configures per-message size limits.
type Limits struct {
	// MessageMaxLen is the raw max characters per non-activation message
	MessageMaxLen int `yaml:"message_max_len"`
	// ActivationMaxLen is the max characters for activation messages
	ActivationMaxLen int `yaml:"activation_max_len"`
	// PersistContext copies the artifacts snapshot into the session row
	// at turn finish when enabled
	PersistContext bool `yaml:"persist_context"`
}

// NATSConfig configures the NATS connection used for checkpoint storage
// and turn-finished events. Empty URL disables both.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// AssetsConfig configures the assistant bundle assets.
type AssetsConfig struct {
	// Dir is the directory holding bundle markdown files
	Dir string `yaml:"dir"`
	// Watch enables hot reload of bundle files
	Watch bool `yaml:"watch"`
}

// DBConfig configures the session store.
type DBConfig struct {
	// Path is the sqlite database file path
	Path string `yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		AI: nil, // Must be configured
		Limits: Limits{
			MessageMaxLen:    4000,
			ActivationMaxLen: 50000,
			PersistContext:   false,
		},
		NATS: NATSConfig{
			URL: "",
		},
		Assets: AssetsConfig{
			Dir:   "assets",
			Watch: false,
		},
		DB: DBConfig{
			Path: "lisa.db",
		},
	}
}

// DefaultAI returns the endpoint marked default, or the first endpoint
// when none is marked. Returns nil if no endpoints are configured.
func (c *Config) DefaultAI() *AIEndpoint {
	for i := range c.AI {
		if c.AI[i].Default {
			return &c.AI[i]
		}
	}
	if len(c.AI) > 0 {
		return &c.AI[0]
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.AI) == 0 {
		return fmt.Errorf("at least one ai endpoint is required")
	}
	defaults := 0
	for i, ep := range c.AI {
		if ep.Model == "" {
			return fmt.Errorf("ai[%d].model is required", i)
		}
		if ep.BaseURL == "" {
			return fmt.Errorf("ai[%d].base_url is required", i)
		}
		if ep.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one ai endpoint may be marked default, got %d", defaults)
	}
	if c.Limits.MessageMaxLen <= 0 {
		return fmt.Errorf("limits.message_max_len must be positive")
	}
	if c.Limits.ActivationMaxLen < c.Limits.MessageMaxLen {
		return fmt.Errorf("limits.activation_max_len must be >= limits.message_max_len")
	}
	return nil
}

// Merge overlays non-zero fields from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if len(other.AI) > 0 {
		c.AI = other.AI
	}
	if other.Limits.MessageMaxLen != 0 {
		c.Limits.MessageMaxLen = other.Limits.MessageMaxLen
	}
	if other.Limits.ActivationMaxLen != 0 {
		c.Limits.ActivationMaxLen = other.Limits.ActivationMaxLen
	}
	if other.Limits.PersistContext {
		c.Limits.PersistContext = true
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Assets.Dir != "" {
		c.Assets.Dir = other.Assets.Dir
	}
	if other.Assets.Watch {
		c.Assets.Watch = true
	}
	if other.DB.Path != "" {
		c.DB.Path = other.DB.Path
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
