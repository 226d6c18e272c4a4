package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if !cfg.Search.HyDEEnabled {
		t.Error("HyDE should be enabled by default")
	}
	if cfg.Search.RerankerEnabled {
		t.Error("reranker should be disabled by default")
	}
	if cfg.Qdrant.Collection != "agents" {
		t.Errorf("Qdrant collection = %q, want agents", cfg.Qdrant.Collection)
	}
	if cfg.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("rate limit = %d, want 60", cfg.RateLimit.RequestsPerMinute)
	}
	if len(cfg.Chains) != 6 {
		t.Fatalf("got %d default chains, want 6", len(cfg.Chains))
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"listen_addr": ":9090",
		"graph": {"url": "https://indexer.example.com/graphql"},
		"llm": {"provider": "openai", "api_key": "file-key"},
		"search": {"hyde_enabled": false}
	}`
	if err := os.WriteFile(path, []byte(body), 0640); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTGATE_LLM_API_KEY", "env-key")
	t.Setenv("AGENTGATE_QDRANT_PORT", "7334")
	t.Setenv("AGENTGATE_HYDE_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090 from file", cfg.ListenAddr)
	}
	if cfg.Graph.URL != "https://indexer.example.com/graphql" {
		t.Errorf("Graph.URL = %q", cfg.Graph.URL)
	}
	// Env beats file.
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
	if cfg.Qdrant.Port != 7334 {
		t.Errorf("Qdrant.Port = %d, want 7334", cfg.Qdrant.Port)
	}
	if !cfg.Search.HyDEEnabled {
		t.Error("env should re-enable HyDE over the file setting")
	}
	// File beats defaults without env.
	if cfg.LLM.Provider != "openai" {
		t.Errorf("LLM.Provider = %q, want openai", cfg.LLM.Provider)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults should fail validation without graph URL and keys")
	}

	cfg.Graph.URL = "https://indexer.example.com/graphql"
	cfg.LLM.APIKey = "sk-test"
	cfg.Embedding.OpenAIKey = "sk-embed"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	cfg.Chains = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with no chains configured")
	}
}

func TestValidateSkippedInTestEnv(t *testing.T) {
	cfg := Default()
	cfg.Environment = "test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test env should skip validation, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Graph.URL = "https://indexer.example.com/graphql"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Graph.URL != cfg.Graph.URL {
		t.Errorf("Graph.URL = %q, want %q", loaded.Graph.URL, cfg.Graph.URL)
	}
}

func TestChainIDs(t *testing.T) {
	ids := Default().ChainIDs()
	want := map[int64]bool{1: true, 11155111: true, 8453: true, 84532: true, 137: true, 42161: true}
	if len(ids) != len(want) {
		t.Fatalf("got %d chain IDs, want %d", len(ids), len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected chain ID %d", id)
		}
	}
}
