// Package config provides configuration loading for the gateway.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config holds all gateway configuration.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `json:"listen_addr"`
	// DatabaseDSN is the relational store DSN. SQLite paths and postgres://
	// URLs are both accepted (default "/var/lib/agentgate/agentgate.db").
	DatabaseDSN string `json:"database_dsn"`

	// Environment gates validation: "production" (default) or "test".
	Environment string `json:"environment,omitempty"`

	// Graph is the upstream chain indexer.
	Graph GraphConfig `json:"graph,omitempty"`

	// Qdrant vector store settings.
	Qdrant QdrantConfig `json:"qdrant,omitempty"`

	// LLM settings (classification and query expansion).
	LLM LLMConfig `json:"llm,omitempty"`

	// Embedding provider settings.
	Embedding EmbeddingConfig `json:"embedding,omitempty"`

	// Search request-time settings.
	Search SearchConfig `json:"search,omitempty"`

	// Rate limiting
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`

	// Chains is the registry of supported networks.
	Chains []ChainConfig `json:"chains,omitempty"`

	// Capability fetch guard relaxations. Local development only.
	AllowHTTPEndpoints    bool `json:"allow_http_endpoints,omitempty"`
	AllowPrivateEndpoints bool `json:"allow_private_endpoints,omitempty"`

	// OTLP trace exporter endpoint. Empty disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`

	// Log level (debug, info, warn, error)
	LogLevel string `json:"log_level"`
}

// GraphConfig configures the upstream GraphQL indexer.
type GraphConfig struct {
	URL    string `json:"url,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	Collection string `json:"collection,omitempty"`
	UseTLS     bool   `json:"use_tls,omitempty"`
}

// LLMConfig configures the LLM provider.
type LLMConfig struct {
	Provider string `json:"provider,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
}

// EmbeddingConfig configures the embedding providers. VoyageKey enables the
// Voyage primary; OpenAIKey alone makes OpenAI the primary, otherwise it is
// the fallback.
type EmbeddingConfig struct {
	OpenAIKey string `json:"openai_key,omitempty"`
	VoyageKey string `json:"voyage_key,omitempty"`
	Model     string `json:"model,omitempty"`
}

// SearchConfig configures the query planner.
type SearchConfig struct {
	HyDEEnabled     bool   `json:"hyde_enabled"`
	HyDEModel       string `json:"hyde_model,omitempty"`
	RerankerEnabled bool   `json:"reranker_enabled"`
	RerankerModel   string `json:"reranker_model,omitempty"`
	RerankerURL     string `json:"reranker_url,omitempty"`
}

// RateLimitConfig configures per-key rate limiting. Tiers maps an API key
// prefix to a higher per-minute allowance.
type RateLimitConfig struct {
	RequestsPerMinute int            `json:"requests_per_minute"`
	Tiers             map[string]int `json:"tiers,omitempty"`
}

// ChainConfig describes one supported network.
type ChainConfig struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	RPCURL string `json:"rpc_url,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		DatabaseDSN: "/var/lib/agentgate/agentgate.db",
		Environment: "production",
		LogLevel:    "info",
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "agents",
		},
		LLM: LLMConfig{
			Provider: "anthropic",
		},
		Search: SearchConfig{
			HyDEEnabled:     true,
			RerankerEnabled: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Chains: []ChainConfig{
			{ID: 1, Name: "ethereum"},
			{ID: 11155111, Name: "sepolia"},
			{ID: 8453, Name: "base"},
			{ID: 84532, Name: "base-sepolia"},
			{ID: 137, Name: "polygon"},
			{ID: 42161, Name: "arbitrum"},
		},
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	// Load from file if it exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("AGENTGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("AGENTGATE_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("AGENTGATE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("AGENTGATE_GRAPH_URL"); v != "" {
		cfg.Graph.URL = v
	}
	if v := os.Getenv("AGENTGATE_GRAPH_API_KEY"); v != "" {
		cfg.Graph.APIKey = v
	}
	if v := os.Getenv("AGENTGATE_QDRANT_HOST"); v != "" {
		cfg.Qdrant.Host = v
	}
	if v := os.Getenv("AGENTGATE_QDRANT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Qdrant.Port = n
		}
	}
	if v := os.Getenv("AGENTGATE_QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
	if v := os.Getenv("AGENTGATE_QDRANT_COLLECTION"); v != "" {
		cfg.Qdrant.Collection = v
	}
	if v := os.Getenv("AGENTGATE_QDRANT_TLS"); v != "" {
		cfg.Qdrant.UseTLS = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGATE_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("AGENTGATE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AGENTGATE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("AGENTGATE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AGENTGATE_OPENAI_API_KEY"); v != "" {
		cfg.Embedding.OpenAIKey = v
	}
	if v := os.Getenv("AGENTGATE_VOYAGE_API_KEY"); v != "" {
		cfg.Embedding.VoyageKey = v
	}
	if v := os.Getenv("AGENTGATE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("AGENTGATE_HYDE_ENABLED"); v != "" {
		cfg.Search.HyDEEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGATE_HYDE_MODEL"); v != "" {
		cfg.Search.HyDEModel = v
	}
	if v := os.Getenv("AGENTGATE_RERANKER_ENABLED"); v != "" {
		cfg.Search.RerankerEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGATE_RERANKER_MODEL"); v != "" {
		cfg.Search.RerankerModel = v
	}
	if v := os.Getenv("AGENTGATE_RERANKER_URL"); v != "" {
		cfg.Search.RerankerURL = v
	}
	if v := os.Getenv("AGENTGATE_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("AGENTGATE_ALLOW_HTTP_ENDPOINTS"); v != "" {
		cfg.AllowHTTPEndpoints = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGATE_ALLOW_PRIVATE_ENDPOINTS"); v != "" {
		cfg.AllowPrivateEndpoints = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGATE_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("AGENTGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// Validate checks that required settings are present. The test environment
// skips the external dependency checks so the binary can start against
// fakes.
func (c Config) Validate() error {
	if c.Environment == "test" {
		return nil
	}
	if c.Graph.URL == "" {
		return fmt.Errorf("graph.url is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.Embedding.OpenAIKey == "" && c.Embedding.VoyageKey == "" {
		return fmt.Errorf("at least one embedding provider key is required")
	}
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	return nil
}

// ChainIDs returns the IDs of all configured chains.
func (c Config) ChainIDs() []int64 {
	out := make([]int64, 0, len(c.Chains))
	for _, chain := range c.Chains {
		out = append(out, chain.ID)
	}
	return out
}

// HasReranker returns true if reranking is enabled and configured.
func (c Config) HasReranker() bool {
	return c.Search.RerankerEnabled && c.Embedding.VoyageKey != ""
}
