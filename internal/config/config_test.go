package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rook.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
general:
  default_provider: claude
providers:
  claude:
    type: claude
    api_key: sk-test
    default_model: claude-sonnet-4-20250514
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.General.MaxToolRounds != DefaultMaxToolRounds {
		t.Errorf("MaxToolRounds = %d, want %d", cfg.General.MaxToolRounds, DefaultMaxToolRounds)
	}
	if cfg.General.ContextRounds != DefaultContextRounds {
		t.Errorf("ContextRounds = %d, want %d", cfg.General.ContextRounds, DefaultContextRounds)
	}
	if cfg.General.MemoryRecallK != DefaultMemoryRecallK {
		t.Errorf("MemoryRecallK = %d, want %d", cfg.General.MemoryRecallK, DefaultMemoryRecallK)
	}
	if cfg.CLI.Timeout != DefaultCLITimeout {
		t.Errorf("CLI.Timeout = %v, want %v", cfg.CLI.Timeout, DefaultCLITimeout)
	}
	if cfg.General.OutputTruncateChars != DefaultOutputTruncateChars {
		t.Errorf("OutputTruncateChars = %d, want %d", cfg.General.OutputTruncateChars, DefaultOutputTruncateChars)
	}
	if cfg.General.SlimThreshold != DefaultSlimThreshold {
		t.Errorf("SlimThreshold = %d, want %d", cfg.General.SlimThreshold, DefaultSlimThreshold)
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("ROOK_TEST_KEY", "sk-from-env")
	cfg, err := Load(writeConfig(t, `
general:
  default_provider: claude
providers:
  claude:
    type: claude
    api_key: ${ROOK_TEST_KEY}
    default_model: claude-sonnet-4-20250514
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Providers["claude"].APIKey; got != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", got)
	}
}

func TestValidateUnknownDefaultProvider(t *testing.T) {
	_, err := Load(writeConfig(t, `
general:
  default_provider: missing
providers:
  claude:
    type: claude
    api_key: sk-test
    default_model: m
`))
	if err == nil {
		t.Fatal("expected error for unknown default provider")
	}
}

func TestMCPServerValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MCPServerConfig
		wantErr bool
	}{
		{"stdio ok", MCPServerConfig{Name: "fs", Transport: MCPTransportStdio, Command: "mcp-fs"}, false},
		{"stdio no command", MCPServerConfig{Name: "fs", Transport: MCPTransportStdio}, true},
		{"http ok", MCPServerConfig{Name: "api", Transport: MCPTransportHTTP, URL: "https://example.com/mcp"}, false},
		{"http no url", MCPServerConfig{Name: "api", Transport: MCPTransportHTTP}, true},
		{"unknown transport", MCPServerConfig{Name: "x", Transport: "pigeon"}, true},
		{"no name", MCPServerConfig{Transport: MCPTransportStdio, Command: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCLITimeoutOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
cli:
  timeout: 30s
  primary:
    command: claude
    args: ["-p", "--output-format", "text"]
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CLI.Timeout != 30*time.Second {
		t.Errorf("CLI.Timeout = %v, want 30s", cfg.CLI.Timeout)
	}
	if cfg.CLI.Primary == nil || cfg.CLI.Primary.Command != "claude" {
		t.Errorf("primary adapter not parsed: %+v", cfg.CLI.Primary)
	}
}
