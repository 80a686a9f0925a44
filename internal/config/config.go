package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acpd-dev/acpd/internal/engine"
)

// Config represents the settings.yaml configuration file
type Config struct {
	// Agent selects the conversation engine backing sessions.
	Agent Agent `yaml:"agent"`
	// ConversationsDir is where per-session event logs are stored.
	// Defaults to <config dir>/conversations.
	ConversationsDir string `yaml:"conversations_dir"`
	// CancelTimeoutSeconds bounds how long a cancellation waits for a
	// running task before forcing termination. Defaults to 10.
	CancelTimeoutSeconds int `yaml:"cancel_timeout_seconds"`
	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// Agent configures the conversation engine
type Agent struct {
	// Model names the LLM the engine should drive. Empty means the agent
	// is not configured yet; sessions still work but clients are warned.
	Model string `yaml:"model"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	// Script points at a scripted-engine fixture file; set for fixture
	// runs and tests, unset for real engines.
	Script string `yaml:"script,omitempty"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		CancelTimeoutSeconds: 10,
		LogLevel:             "info",
	}
}

// DefaultDir returns the configuration directory, ~/.acpd
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".acpd"), nil
}

// Configured reports whether an engine backend is set up
func (c *Config) Configured() bool {
	return c.Agent.Model != "" || c.Agent.Script != ""
}

// CancelTimeout returns the cancellation wait as a duration
func (c *Config) CancelTimeout() time.Duration {
	return time.Duration(c.CancelTimeoutSeconds) * time.Second
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.CancelTimeoutSeconds < 0 {
		return fmt.Errorf("configuration error: invalid 'cancel_timeout_seconds' value: %d\n\nHint: The cancellation timeout must be zero or positive, for example:\n  cancel_timeout_seconds: 10", c.CancelTimeoutSeconds)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("configuration error: invalid 'log_level' value: %q\n\nHint: Use one of debug, info, warn, error:\n  log_level: info", c.LogLevel)
	}

	return nil
}

// LoadFromFile loads a configuration from a YAML file. A missing file
// yields the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := GenerateDefault()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.CancelTimeoutSeconds == 0 {
		cfg.CancelTimeoutSeconds = 10
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// mcpFile is the shape of mcp.json: a single "mcpServers" object keyed by
// server name.
type mcpFile struct {
	McpServers map[string]engine.McpServerSpec `json:"mcpServers"`
}

// LoadMcpServers reads MCP server definitions from a JSON file. A missing
// file yields an empty map.
func LoadMcpServers(path string) (map[string]engine.McpServerSpec, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]engine.McpServerSpec{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read MCP config %s: %w", path, err)
	}

	var file mcpFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config %s: %w\n\nHint: The file must be JSON with a top-level mcpServers object:\n  {\"mcpServers\": {\"fetch\": {\"command\": \"uvx\", \"args\": [\"mcp-server-fetch\"]}}}", path, err)
	}

	if file.McpServers == nil {
		file.McpServers = map[string]engine.McpServerSpec{}
	}
	return file.McpServers, nil
}
