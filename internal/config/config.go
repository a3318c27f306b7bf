// Package config loads and validates vaultrag configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/vaultrag/config.yaml)
//  3. Vault config (.vaultrag.yaml in the vault root)
//  4. Environment variables (VAULTRAG_*)
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is the current configuration schema version.
const ConfigVersion = 1

// Vault config file names, checked in order.
const (
	VaultConfigName    = ".vaultrag.yaml"
	VaultConfigNameAlt = ".vaultrag.yml"
)

// Config is the root configuration for vaultrag.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Vault      VaultConfig      `yaml:"vault" json:"vault"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Agent      AgentConfig      `yaml:"agent" json:"agent"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
}

// VaultConfig describes the Markdown vault to index.
type VaultConfig struct {
	// Path is the vault root directory.
	Path string `yaml:"path" json:"path"`
	// Include restricts syncs to these relative path prefixes (empty = whole vault).
	Include []string `yaml:"include" json:"include"`
	// Ignore adds glob patterns on top of the built-in ignore set.
	Ignore []string `yaml:"ignore" json:"ignore"`
	// Extensions lists indexable file extensions.
	Extensions []string `yaml:"extensions" json:"extensions"`
	// MaxFileSizeMB skips files larger than this (0 = no limit).
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// ChunkingConfig controls the Markdown chunker.
type ChunkingConfig struct {
	// MinChunkSize is the minimum chunk size in characters.
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size"`
	// MaxChunkSize is the maximum chunk size in characters.
	MaxChunkSize int `yaml:"max_chunk_size" json:"max_chunk_size"`
	// ChunkLevel is the deepest header level that starts a new chunk (1-6).
	ChunkLevel int `yaml:"chunk_level" json:"chunk_level"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: ollama, openai, or static.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`
	// Dimensions overrides vector dimensionality (0 = auto-detect).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is the number of texts per embedding request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BaseURL is the provider endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// QueryPrefix/PassagePrefix override E5-style instruction prefixes.
	QueryPrefix   string `yaml:"query_prefix" json:"query_prefix"`
	PassagePrefix string `yaml:"passage_prefix" json:"passage_prefix"`
	// CacheSize is the embedding LRU cache capacity (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Timeout is the per-request timeout (Go duration string).
	Timeout string `yaml:"timeout" json:"timeout"`
	// PoolSize is the HTTP connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// LLMConfig configures the answer-generation model.
type LLMConfig struct {
	// Provider selects the LLM: ollama or openai.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the chat model name.
	Model string `yaml:"model" json:"model"`
	// BaseURL is the provider endpoint.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// Temperature is the default sampling temperature.
	Temperature float64 `yaml:"temperature" json:"temperature"`
	// MaxTokens caps generated tokens per response.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// Timeout is the per-request timeout (Go duration string).
	Timeout string `yaml:"timeout" json:"timeout"`
}

// SearchConfig controls retrieval.
type SearchConfig struct {
	// TopK is the number of chunks returned to the caller.
	TopK int `yaml:"top_k" json:"top_k"`
	// DenseWeight and SparseWeight blend vector and BM25 scores.
	// They must each be in [0,1] and sum to 1.0.
	DenseWeight  float64 `yaml:"dense_weight" json:"dense_weight"`
	SparseWeight float64 `yaml:"sparse_weight" json:"sparse_weight"`
	// Hybrid enables BM25+dense blending for queries.
	Hybrid bool `yaml:"hybrid" json:"hybrid"`
	// Rerank configures the optional cross-encoder stage.
	Rerank RerankConfig `yaml:"rerank" json:"rerank"`
}

// RerankConfig configures the cross-encoder reranking sidecar.
type RerankConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Endpoint is the reranker HTTP base URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Model is the cross-encoder model name ("" = server default).
	Model string `yaml:"model" json:"model"`
	// InitialK is how many candidates are fetched before reranking.
	InitialK int `yaml:"initial_k" json:"initial_k"`
	// Timeout is the per-request timeout (Go duration string).
	Timeout string `yaml:"timeout" json:"timeout"`
}

// AgentConfig controls the agentic retrieval layer.
type AgentConfig struct {
	// QualityThreshold is the minimum mean top-3 score before broadening.
	QualityThreshold float64 `yaml:"quality_threshold" json:"quality_threshold"`
	// MaxRetries bounds broadening attempts.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// MaxWorkers bounds parallel sub-query retrievals.
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	// BroadenTemperature is the LLM temperature for query broadening.
	BroadenTemperature float64 `yaml:"broaden_temperature" json:"broaden_temperature"`
	// HistoryWindow is how many chat messages feed the query rewriter.
	HistoryWindow int `yaml:"history_window" json:"history_window"`
}

// StoreConfig selects and configures the vector store backend.
// Store backend names.
const (
	StoreBackendLocal  = "local"
	StoreBackendQdrant = "qdrant"
)

type StoreConfig struct {
	// Backend is "local" (embedded HNSW) or "qdrant".
	Backend string `yaml:"backend" json:"backend"`
	// DataDir is where registries, local collections, and chat history live.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// CollectionBase seeds the derived collection name.
	CollectionBase string `yaml:"collection_base" json:"collection_base"`
	// Qdrant holds remote backend settings.
	Qdrant QdrantConfig `yaml:"qdrant" json:"qdrant"`
}

// QdrantConfig holds qdrant connection settings (gRPC).
type QdrantConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	UseTLS    bool   `yaml:"use_tls" json:"use_tls"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// WatchConfig configures filesystem watching.
type WatchConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Debounce coalesces bursts of file events (Go duration string).
	Debounce string `yaml:"debounce" json:"debounce"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: ConfigVersion,
		Vault: VaultConfig{
			Extensions:    []string{".md"},
			MaxFileSizeMB: 10,
		},
		Chunking: ChunkingConfig{
			MinChunkSize: 200,
			MaxChunkSize: 1500,
			ChunkLevel:   2,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BatchSize: 32,
			BaseURL:   "http://localhost:11434",
			APIKeyEnv: "OPENAI_API_KEY",
			CacheSize: 10000,
			Timeout:   "60s",
			PoolSize:  10,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama3.1",
			BaseURL:     "http://localhost:11434",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.2,
			MaxTokens:   1024,
			Timeout:     "120s",
		},
		Search: SearchConfig{
			TopK:         5,
			DenseWeight:  0.6,
			SparseWeight: 0.4,
			Rerank: RerankConfig{
				Endpoint: "http://localhost:9659",
				InitialK: 20,
				Timeout:  "30s",
			},
		},
		Agent: AgentConfig{
			QualityThreshold:   0.5,
			MaxRetries:         2,
			MaxWorkers:         3,
			BroadenTemperature: 0.3,
			HistoryWindow:      6,
		},
		Store: StoreConfig{
			Backend:        "local",
			DataDir:        DefaultDataDir(),
			CollectionBase: "vault",
			Qdrant: QdrantConfig{
				Host:      "localhost",
				Port:      6334,
				APIKeyEnv: "QDRANT_API_KEY",
			},
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			LogLevel: "info",
		},
		Watch: WatchConfig{
			Debounce: "2s",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/vaultrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/vaultrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vaultrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vaultrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "vaultrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load loads configuration for the vault rooted at dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	// Step 1: user/global config (if exists)
	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	// Step 2: vault config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 3: environment variable overrides (highest precedence)
	cfg.applyEnvOverrides()

	// A vault config implies its directory is the vault unless told otherwise.
	if cfg.Vault.Path == "" {
		cfg.Vault.Path = dir
	}

	// Step 4: validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .vaultrag.yaml or .vaultrag.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, VaultConfigName)
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, VaultConfigNameAlt)
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Vault
	if other.Vault.Path != "" {
		c.Vault.Path = other.Vault.Path
	}
	if len(other.Vault.Include) > 0 {
		c.Vault.Include = other.Vault.Include
	}
	if len(other.Vault.Ignore) > 0 {
		// Extra patterns stack on top of earlier layers.
		c.Vault.Ignore = append(c.Vault.Ignore, other.Vault.Ignore...)
	}
	if len(other.Vault.Extensions) > 0 {
		c.Vault.Extensions = other.Vault.Extensions
	}
	if other.Vault.MaxFileSizeMB != 0 {
		c.Vault.MaxFileSizeMB = other.Vault.MaxFileSizeMB
	}

	// Chunking
	if other.Chunking.MinChunkSize != 0 {
		c.Chunking.MinChunkSize = other.Chunking.MinChunkSize
	}
	if other.Chunking.MaxChunkSize != 0 {
		c.Chunking.MaxChunkSize = other.Chunking.MaxChunkSize
	}
	if other.Chunking.ChunkLevel != 0 {
		c.Chunking.ChunkLevel = other.Chunking.ChunkLevel
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}
	if other.Embeddings.APIKeyEnv != "" {
		c.Embeddings.APIKeyEnv = other.Embeddings.APIKeyEnv
	}
	if other.Embeddings.QueryPrefix != "" {
		c.Embeddings.QueryPrefix = other.Embeddings.QueryPrefix
	}
	if other.Embeddings.PassagePrefix != "" {
		c.Embeddings.PassagePrefix = other.Embeddings.PassagePrefix
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != "" {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.PoolSize != 0 {
		c.Embeddings.PoolSize = other.Embeddings.PoolSize
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.APIKeyEnv != "" {
		c.LLM.APIKeyEnv = other.LLM.APIKeyEnv
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Search. Zero is not a meaningful weight, so only non-zero merges.
	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.DenseWeight != 0 {
		c.Search.DenseWeight = other.Search.DenseWeight
	}
	if other.Search.SparseWeight != 0 {
		c.Search.SparseWeight = other.Search.SparseWeight
	}
	if other.Search.Hybrid {
		c.Search.Hybrid = true
	}

	// Rerank. Enabled is boolean; treat any sibling setting as presence.
	if other.Search.Rerank.Enabled || other.Search.Rerank.Endpoint != "" ||
		other.Search.Rerank.Model != "" || other.Search.Rerank.InitialK != 0 {
		c.Search.Rerank.Enabled = other.Search.Rerank.Enabled
	}
	if other.Search.Rerank.Endpoint != "" {
		c.Search.Rerank.Endpoint = other.Search.Rerank.Endpoint
	}
	if other.Search.Rerank.Model != "" {
		c.Search.Rerank.Model = other.Search.Rerank.Model
	}
	if other.Search.Rerank.InitialK != 0 {
		c.Search.Rerank.InitialK = other.Search.Rerank.InitialK
	}
	if other.Search.Rerank.Timeout != "" {
		c.Search.Rerank.Timeout = other.Search.Rerank.Timeout
	}

	// Agent
	if other.Agent.QualityThreshold != 0 {
		c.Agent.QualityThreshold = other.Agent.QualityThreshold
	}
	if other.Agent.MaxRetries != 0 {
		c.Agent.MaxRetries = other.Agent.MaxRetries
	}
	if other.Agent.MaxWorkers != 0 {
		c.Agent.MaxWorkers = other.Agent.MaxWorkers
	}
	if other.Agent.BroadenTemperature != 0 {
		c.Agent.BroadenTemperature = other.Agent.BroadenTemperature
	}
	if other.Agent.HistoryWindow != 0 {
		c.Agent.HistoryWindow = other.Agent.HistoryWindow
	}

	// Store
	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.CollectionBase != "" {
		c.Store.CollectionBase = other.Store.CollectionBase
	}
	if other.Store.Qdrant.Host != "" {
		c.Store.Qdrant.Host = other.Store.Qdrant.Host
	}
	if other.Store.Qdrant.Port != 0 {
		c.Store.Qdrant.Port = other.Store.Qdrant.Port
	}
	if other.Store.Qdrant.APIKeyEnv != "" {
		c.Store.Qdrant.APIKeyEnv = other.Store.Qdrant.APIKeyEnv
	}
	if other.Store.Qdrant.UseTLS {
		c.Store.Qdrant.UseTLS = true
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Watch. Enabled merges when debounce is also present, or when true.
	if other.Watch.Enabled || other.Watch.Debounce != "" {
		if other.Watch.Enabled {
			c.Watch.Enabled = true
		}
	}
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
}

// applyEnvOverrides applies VAULTRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VAULTRAG_VAULT_PATH"); v != "" {
		c.Vault.Path = v
	}
	if v := os.Getenv("VAULTRAG_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("VAULTRAG_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("VAULTRAG_COLLECTION_BASE"); v != "" {
		c.Store.CollectionBase = v
	}
	if v := os.Getenv("VAULTRAG_QDRANT_HOST"); v != "" {
		c.Store.Qdrant.Host = v
	}
	if v := os.Getenv("VAULTRAG_QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Store.Qdrant.Port = p
		}
	}
	if v := os.Getenv("VAULTRAG_QDRANT_USE_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Store.Qdrant.UseTLS = b
		}
	}

	if v := os.Getenv("VAULTRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("VAULTRAG_EMBEDDINGS_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.Dimensions = n
		}
	}

	if v := os.Getenv("VAULTRAG_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("VAULTRAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("VAULTRAG_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("VAULTRAG_LLM_TEMPERATURE"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 {
			c.LLM.Temperature = f
		}
	}
	if v := os.Getenv("VAULTRAG_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxTokens = n
		}
	}

	// Search weights: explicit zero via env is allowed (e.g. pure sparse).
	if v := os.Getenv("VAULTRAG_DENSE_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.DenseWeight = w
		}
	}
	if v := os.Getenv("VAULTRAG_SPARSE_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SparseWeight = w
		}
	}
	if v := os.Getenv("VAULTRAG_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TopK = n
		}
	}
	if v := os.Getenv("VAULTRAG_HYBRID"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.Hybrid = b
		}
	}
	if v := os.Getenv("VAULTRAG_RERANK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Search.Rerank.Enabled = b
		}
	}
	if v := os.Getenv("VAULTRAG_RERANK_ENDPOINT"); v != "" {
		c.Search.Rerank.Endpoint = v
	}
	if v := os.Getenv("VAULTRAG_RERANK_MODEL"); v != "" {
		c.Search.Rerank.Model = v
	}

	if v := os.Getenv("VAULTRAG_AGENT_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxWorkers = n
		}
	}
	if v := os.Getenv("VAULTRAG_AGENT_QUALITY_THRESHOLD"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Agent.QualityThreshold = f
		}
	}
	if v := os.Getenv("VAULTRAG_AGENT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Agent.MaxRetries = n
		}
	}

	if v := os.Getenv("VAULTRAG_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("VAULTRAG_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("VAULTRAG_SERVER_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("VAULTRAG_WATCH_DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	// Search weights
	if c.Search.DenseWeight < 0 || c.Search.DenseWeight > 1 {
		return fmt.Errorf("search.dense_weight must be between 0 and 1, got %f", c.Search.DenseWeight)
	}
	if c.Search.SparseWeight < 0 || c.Search.SparseWeight > 1 {
		return fmt.Errorf("search.sparse_weight must be between 0 and 1, got %f", c.Search.SparseWeight)
	}
	sum := c.Search.DenseWeight + c.Search.SparseWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.dense_weight + search.sparse_weight must equal 1.0, got %.2f", sum)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.Rerank.InitialK <= 0 {
		return fmt.Errorf("search.rerank.initial_k must be positive, got %d", c.Search.Rerank.InitialK)
	}

	// Chunking
	if c.Chunking.MinChunkSize <= 0 {
		return fmt.Errorf("chunking.min_chunk_size must be positive, got %d", c.Chunking.MinChunkSize)
	}
	if c.Chunking.MaxChunkSize < c.Chunking.MinChunkSize {
		return fmt.Errorf("chunking.max_chunk_size (%d) must be >= min_chunk_size (%d)",
			c.Chunking.MaxChunkSize, c.Chunking.MinChunkSize)
	}
	if c.Chunking.ChunkLevel < 1 || c.Chunking.ChunkLevel > 6 {
		return fmt.Errorf("chunking.chunk_level must be between 1 and 6, got %d", c.Chunking.ChunkLevel)
	}

	// Providers (empty string means auto-detection at wiring time)
	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "openai": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'openai', 'static', or empty, got %s", c.Embeddings.Provider)
		}
	}
	if c.LLM.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "openai": true}
		if !validProviders[strings.ToLower(c.LLM.Provider)] {
			return fmt.Errorf("llm.provider must be 'ollama' or 'openai', got %s", c.LLM.Provider)
		}
	}

	// Store backend
	validBackends := map[string]bool{StoreBackendLocal: true, StoreBackendQdrant: true}
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		return fmt.Errorf("store.backend must be 'local' or 'qdrant', got %s", c.Store.Backend)
	}

	// Agent
	if c.Agent.QualityThreshold < 0 || c.Agent.QualityThreshold > 1 {
		return fmt.Errorf("agent.quality_threshold must be between 0 and 1, got %f", c.Agent.QualityThreshold)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent.max_retries must be non-negative, got %d", c.Agent.MaxRetries)
	}
	if c.Agent.MaxWorkers < 1 {
		return fmt.Errorf("agent.max_workers must be at least 1, got %d", c.Agent.MaxWorkers)
	}

	// Server
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	// Vault
	if c.Vault.MaxFileSizeMB < 0 {
		return fmt.Errorf("vault.max_file_size_mb must be non-negative, got %d", c.Vault.MaxFileSizeMB)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
// Used by `vaultrag config --upgrade` after schema additions.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.DenseWeight == 0 {
		c.Search.DenseWeight = defaults.Search.DenseWeight
		added = append(added, "search.dense_weight")
	}
	if c.Search.SparseWeight == 0 {
		c.Search.SparseWeight = defaults.Search.SparseWeight
		added = append(added, "search.sparse_weight")
	}
	if c.Search.Rerank.InitialK == 0 {
		c.Search.Rerank.InitialK = defaults.Search.Rerank.InitialK
		added = append(added, "search.rerank.initial_k")
	}
	if c.Agent.HistoryWindow == 0 {
		c.Agent.HistoryWindow = defaults.Agent.HistoryWindow
		added = append(added, "agent.history_window")
	}
	if c.Embeddings.CacheSize == 0 {
		c.Embeddings.CacheSize = defaults.Embeddings.CacheSize
		added = append(added, "embeddings.cache_size")
	}
	if c.Watch.Debounce == "" {
		c.Watch.Debounce = defaults.Watch.Debounce
		added = append(added, "watch.debounce")
	}

	return added
}

// FindVaultRoot finds the vault root directory.
// It looks for a .vaultrag.yaml/.yml file or an .obsidian directory by
// walking up the directory tree. Falls back to the starting directory.
func FindVaultRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, VaultConfigName)) ||
			fileExists(filepath.Join(currentDir, VaultConfigNameAlt)) {
			return currentDir, nil
		}

		if dirExists(filepath.Join(currentDir, ".obsidian")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached filesystem root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// Duration accessors with fallbacks for unparseable values.

// TimeoutDuration returns the embedding request timeout.
func (e EmbeddingsConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(e.Timeout, 60*time.Second)
}

// TimeoutDuration returns the LLM request timeout.
func (l LLMConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(l.Timeout, 120*time.Second)
}

// TimeoutDuration returns the rerank request timeout.
func (r RerankConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(r.Timeout, 30*time.Second)
}

// DebounceDuration returns the watcher debounce interval.
func (w WatchConfig) DebounceDuration() time.Duration {
	return parseDurationOr(w.Debounce, 2*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
