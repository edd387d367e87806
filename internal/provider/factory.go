package provider

import (
	"fmt"

	"github.com/corvid-labs/rook/internal/config"
)

// New builds a backend from its config entry.
func New(cfg *config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderClaude:
		return NewAnthropic(AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.APIBase,
			Model:   cfg.DefaultModel,
		})
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.APIBase,
			Model:   cfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
