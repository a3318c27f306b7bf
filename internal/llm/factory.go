package llm

import (
	"os"
	"strings"

	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/errors"
)

// New builds an LLM from configuration. Ollama clients are returned
// unconditionally; OpenAI clients fail here when the key is missing or
// malformed.
func New(cfg config.LLMConfig) (LLM, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "ollama":
		return NewOllamaLLM(OllamaConfig{
			Host:        strings.TrimRight(cfg.BaseURL, "/"),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.TimeoutDuration(),
		}), nil

	case "openai":
		base := strings.TrimRight(cfg.BaseURL, "/")
		if base == DefaultOllamaHost {
			// The stock base_url points at Ollama; OpenAI gets its own default.
			base = ""
		}
		return NewOpenAILLM(OpenAIConfig{
			APIKey:      apiKeyFromEnv(cfg.APIKeyEnv),
			Model:       cfg.Model,
			BaseURL:     base,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.TimeoutDuration(),
		})

	default:
		return nil, errors.ConfigError("unknown LLM provider: "+cfg.Provider, nil).
			WithSuggestion("valid providers are ollama and openai")
	}
}

func apiKeyFromEnv(envVar string) string {
	if envVar == "" {
		envVar = "OPENAI_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(envVar))
}
