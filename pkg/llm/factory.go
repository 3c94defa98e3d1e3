package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/config"
)

// NewFromConfig builds the ChatClient selected by cfg.Provider.
// Returns nil when no provider is configured; callers treat a nil client as
// "LLM unavailable" and fall back to deterministic behavior.
func NewFromConfig(cfg *config.LLMConfig, logger *zap.Logger) (ChatClient, error) {
	if !cfg.IsAvailable() {
		return nil, nil
	}

	clientCfg := &ClientConfig{
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
	}

	switch cfg.Provider {
	case config.LLMProviderOpenAI:
		return NewOpenAIClient(clientCfg, logger)
	case config.LLMProviderAnthropic:
		return NewAnthropicClient(clientCfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
