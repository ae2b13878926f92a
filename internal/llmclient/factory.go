// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

// NewClient builds the configured provider's client. A distinct FastModel
// gets its own client behind an LLMRouter, and the result is rate limited.
func NewClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.Provider != config.ProviderGemini {
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}

	powerful, err := NewGoogleClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	var client schemas.LLMClient = powerful
	if cfg.FastModel != "" && cfg.FastModel != cfg.Model {
		fastCfg := cfg
		fastCfg.Model = cfg.FastModel
		fast, err := NewGoogleClient(ctx, fastCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		if client, err = NewLLMRouter(logger, fast, powerful); err != nil {
			return nil, err
		}
	}
	return NewRateLimitedClient(client, cfg.RequestsPerMinute), nil
}
