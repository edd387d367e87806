// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the knobs the engine and its collaborators consume.
const (
	DefaultMaxToolRounds       = 25
	DefaultContextRounds       = 50
	DefaultMemoryRecallK       = 5
	DefaultCLITimeout          = 600 * time.Second
	DefaultOutputTruncateChars = 50_000
	DefaultSlimThreshold       = 200
	DefaultArtifactMaxAgeDays  = 7
)

// ProviderType selects a backend family.
type ProviderType string

const (
	ProviderClaude ProviderType = "claude"
	ProviderOpenAI ProviderType = "openai"
)

// ProviderConfig configures one LLM backend.
type ProviderConfig struct {
	Type         ProviderType      `yaml:"type"`
	APIKey       string            `yaml:"api_key"`
	APIBase      string            `yaml:"api_base,omitempty"`
	DefaultModel string            `yaml:"default_model"`
	Models       []string          `yaml:"models,omitempty"`
	MaxTokens    int               `yaml:"max_tokens,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty"`
}

// TitlesConfig configures the auxiliary title-generation backend.
type TitlesConfig struct {
	Enabled   bool         `yaml:"enabled"`
	Type      ProviderType `yaml:"type,omitempty"`
	APIKey    string       `yaml:"api_key,omitempty"`
	APIBase   string       `yaml:"api_base,omitempty"`
	Model     string       `yaml:"model,omitempty"`
	MaxTokens int          `yaml:"max_tokens,omitempty"`
}

// CLIAdapterConfig configures one delegated command-line adapter.
type CLIAdapterConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// CLIConfig configures the process supervisor.
type CLIConfig struct {
	Primary   *CLIAdapterConfig `yaml:"primary,omitempty"`
	Secondary *CLIAdapterConfig `yaml:"secondary,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
	Workspace string            `yaml:"workspace,omitempty"`
}

// MCPTransport selects a tool provider transport.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
)

// MCPServerConfig configures one external tool provider.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport MCPTransport      `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

// Validate checks the provider entry is complete enough to connect.
func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server name is required")
	}
	switch c.Transport {
	case MCPTransportStdio:
		if c.Command == "" {
			return fmt.Errorf("mcp server %q: command is required for stdio transport", c.Name)
		}
	case MCPTransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("mcp server %q: url is required for http transport", c.Name)
		}
	default:
		return fmt.Errorf("mcp server %q: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

// GeneralConfig holds the engine-level knobs.
type GeneralConfig struct {
	DefaultProvider     string `yaml:"default_provider"`
	MaxToolRounds       int    `yaml:"max_tool_rounds,omitempty"`
	ContextRounds       int    `yaml:"context_rounds,omitempty"`
	MemoryRecallK       int    `yaml:"memory_recall_k,omitempty"`
	Timezone            string `yaml:"timezone,omitempty"`
	OutputTruncateChars int    `yaml:"output_truncate_chars,omitempty"`
	SlimThreshold       int    `yaml:"slim_threshold,omitempty"`
	ArtifactMaxAgeDays  int    `yaml:"artifact_max_age_days,omitempty"`
	MetricsAddr         string `yaml:"metrics_addr,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	General   GeneralConfig              `yaml:"general"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Titles    *TitlesConfig              `yaml:"titles,omitempty"`
	CLI       CLIConfig                  `yaml:"cli,omitempty"`
	MCP       []*MCPServerConfig         `yaml:"mcp_servers,omitempty"`
	DataDir   string                     `yaml:"data_dir,omitempty"`
	Persona   string                     `yaml:"persona,omitempty"`
}

// Load reads a YAML config file, expanding ${ENV} references before decode,
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued knobs with their defaults.
func (c *Config) ApplyDefaults() {
	if c.General.MaxToolRounds <= 0 {
		c.General.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.General.ContextRounds <= 0 {
		c.General.ContextRounds = DefaultContextRounds
	}
	if c.General.MemoryRecallK <= 0 {
		c.General.MemoryRecallK = DefaultMemoryRecallK
	}
	if c.General.Timezone == "" {
		c.General.Timezone = "UTC"
	}
	if c.General.OutputTruncateChars <= 0 {
		c.General.OutputTruncateChars = DefaultOutputTruncateChars
	}
	if c.General.SlimThreshold <= 0 {
		c.General.SlimThreshold = DefaultSlimThreshold
	}
	if c.General.ArtifactMaxAgeDays <= 0 {
		c.General.ArtifactMaxAgeDays = DefaultArtifactMaxAgeDays
	}
	if c.CLI.Timeout <= 0 {
		c.CLI.Timeout = DefaultCLITimeout
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".rook")
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	if c.General.DefaultProvider == "" {
		return fmt.Errorf("general.default_provider is required")
	}
	if _, ok := c.Providers[c.General.DefaultProvider]; !ok {
		return fmt.Errorf("default provider %q is not configured", c.General.DefaultProvider)
	}
	for name, p := range c.Providers {
		if p.Type != ProviderClaude && p.Type != ProviderOpenAI {
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}
	for _, s := range c.MCP {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ArtifactDir is where the process supervisor writes untruncated captures.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.DataDir, "cli_outputs")
}

// DatabasePath is the SQLite file backing sessions, turns, and memories.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "rook.db")
}
