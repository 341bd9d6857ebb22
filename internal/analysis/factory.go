package analysis

import (
	"fmt"
	"strings"

	"decisionlens/internal/config"
)

// NewGateway creates the Analysis Gateway configured by cfg.
func NewGateway(cfg *config.Config) (Gateway, error) {
	switch strings.ToLower(string(cfg.LLMProvider)) {
	case string(config.ProviderOpenAI):
		return NewOpenAI(
			cfg.OpenAIAPIKey,
			cfg.OpenAIBaseURL,
			cfg.OpenAIModel,
			cfg.OpenRouterReferrer,
			cfg.OpenRouterTitle,
			cfg.AnalysisTimeout,
		), nil
	case string(config.ProviderYandex):
		return NewYandex(cfg.YandexOAuthToken, cfg.YandexFolderID, cfg.AnalysisTimeout)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
}
