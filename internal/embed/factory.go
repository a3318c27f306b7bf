package embed

import (
	"context"
	"os"
	"strings"

	"github.com/vaultrag/vaultrag/internal/config"
	"github.com/vaultrag/vaultrag/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses a local Ollama server (default)
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses the OpenAI embeddings API
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses deterministic hash-based embeddings. Useful
	// for tests and for keyword-only setups with no model server.
	ProviderStatic ProviderType = "static"
)

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ParseProvider converts a configured provider name to a ProviderType.
// An empty string selects the default. Unknown names are a configuration
// error so typos surface at startup instead of as an unreachable server.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ollama":
		return ProviderOllama, nil
	case "openai":
		return ProviderOpenAI, nil
	case "static":
		return ProviderStatic, nil
	default:
		return "", errors.ConfigError("unknown embedding provider: "+s, nil).
			WithSuggestion("valid providers are ollama, openai, and static")
	}
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderOllama),
		string(ProviderOpenAI),
		string(ProviderStatic),
	}
}

// NewEmbedder creates an embedder from the embeddings config section.
// The result is wrapped with an LRU cache unless cache_size is negative.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var inner Embedder
	switch provider {
	case ProviderOllama:
		ocfg := DefaultOllamaConfig()
		if cfg.BaseURL != "" {
			ocfg.Host = strings.TrimRight(cfg.BaseURL, "/")
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		ocfg.Dimensions = cfg.Dimensions
		if cfg.BatchSize > 0 {
			ocfg.BatchSize = cfg.BatchSize
		}
		if d := cfg.TimeoutDuration(); d > 0 {
			ocfg.Timeout = d
		}
		if cfg.PoolSize > 0 {
			ocfg.PoolSize = cfg.PoolSize
		}
		ocfg.QueryPrefix = cfg.QueryPrefix
		ocfg.PassagePrefix = cfg.PassagePrefix
		inner, err = NewOllamaEmbedder(ctx, ocfg)

	case ProviderOpenAI:
		base := cfg.BaseURL
		// The stock base_url points at Ollama; OpenAI gets its own default.
		if base == DefaultOllamaHost {
			base = ""
		}
		inner, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     apiKeyFromEnv(cfg.APIKeyEnv),
			Model:      cfg.Model,
			BaseURL:    base,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Timeout:    cfg.TimeoutDuration(),
			PoolSize:   cfg.PoolSize,
		})

	case ProviderStatic:
		inner = NewStaticEmbedder()
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

// apiKeyFromEnv reads the API key from the named environment variable.
func apiKeyFromEnv(name string) string {
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	return strings.TrimSpace(os.Getenv(name))
}

// EmbedderInfo describes a constructed embedder for status output.
type EmbedderInfo struct {
	Provider   ProviderType `json:"provider"`
	Model      string       `json:"model"`
	Dimensions int          `json:"dimensions"`
	Cached     bool         `json:"cached"`
	Available  bool         `json:"available"`
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	// Unwrap cached embedder to get underlying type
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
		info.Cached = true
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	default:
		info.Provider = ProviderStatic
	}

	return info
}
