// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// NewClient is a factory function that creates an LLMClient for the model a
// repair ticket asks for. Each client shares a rate limiter derived from the
// router's per-minute budget.
func NewClient(routerCfg config.LLMRouterConfig, model string, logger *zap.Logger) (schemas.LLMClient, error) {
	if model == "" {
		model = routerCfg.DefaultModel
	}

	profile := routerCfg.Profile(model)

	modelCfg, ok := routerCfg.Models[model]
	if !ok {
		// Fall back to the provider-level entry when there is no per-model
		// connection block.
		modelCfg, ok = routerCfg.Models[profile.Provider]
		if !ok {
			modelCfg = config.LLMModelConfig{
				Provider: config.LLMProvider(profile.Provider),
				Model:    model,
			}
		}
	}
	if modelCfg.Model == "" {
		modelCfg.Model = model
	}

	limiter := newLimiter(routerCfg.RequestsPerMin)

	switch modelCfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(modelCfg, limiter, logger)
	case config.ProviderOllama:
		return NewOllamaClient(modelCfg, limiter, logger), nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			modelCfg.Provider, config.ProviderGemini, config.ProviderOllama)
	}
}

func newLimiter(requestsPerMin float64) *rate.Limiter {
	if requestsPerMin <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerMin/60.0), 1)
}
