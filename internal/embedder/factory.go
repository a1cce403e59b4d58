package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// Default embedding models per backend. Both produce 384-dimensional
// vectors at the default configuration (OpenAI via the dimensions parameter).
const (
	defaultOllamaModel = "all-minilm"
	defaultOpenAIModel = "text-embedding-3-small"
)

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is one of hash, ollama, openai, azure.
	Provider string
	// Model is the embedding model (or Azure deployment) name.
	Model string
	// Dimensions is the required vector length.
	Dimensions int
	// APIKey authenticates against openai/azure.
	APIKey string
	// Endpoint is the provider base URL.
	Endpoint string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// CallTimeout bounds each embed call.
	CallTimeout time.Duration
	// LoadTimeout bounds each load attempt.
	LoadTimeout time.Duration
}

// ConfigFromEnv resolves the embedding configuration from the environment.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER (default: hash)
//  2. EMBEDDING_MODEL overrides the default model for the resolved backend
//  3. EMBEDDING_API_KEY overrides OPENAI_API_KEY / AZURE_OPENAI_API_KEY
//  4. EMBEDDING_ENDPOINT overrides OLLAMA_HOST / AZURE_OPENAI_ENDPOINT
//  5. EMBEDDING_DIMENSIONS (default: 384)
//  6. KBQA_EMBED_TIMEOUT, KBQA_EMBED_LOAD_TIMEOUT
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:    strings.ToLower(config.String("EMBEDDING_PROVIDER", "hash")),
		Dimensions:  config.Int("EMBEDDING_DIMENSIONS", rag.DefaultDimensions),
		CallTimeout: config.Duration("KBQA_EMBED_TIMEOUT", DefaultCallTimeout),
		LoadTimeout: config.Duration("KBQA_EMBED_LOAD_TIMEOUT", DefaultLoadTimeout),
	}

	switch cfg.Provider {
	case "ollama":
		cfg.Model = config.String("EMBEDDING_MODEL", defaultOllamaModel)
		cfg.Endpoint = config.FirstString("http://localhost:11434", "EMBEDDING_ENDPOINT", "OLLAMA_HOST")
	case "openai":
		cfg.Model = config.String("EMBEDDING_MODEL", defaultOpenAIModel)
		cfg.APIKey = config.FirstString("", "EMBEDDING_API_KEY", "OPENAI_API_KEY")
		cfg.Endpoint = config.String("EMBEDDING_ENDPOINT", "https://api.openai.com/v1")
	case "azure":
		cfg.Model = config.String("EMBEDDING_MODEL", defaultOpenAIModel)
		cfg.APIKey = config.FirstString("", "EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		cfg.Endpoint = config.FirstString("", "EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		cfg.APIVersion = config.String("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
	default:
		cfg.Model = config.String("EMBEDDING_MODEL", "xxhash-tf")
	}
	return cfg
}

// New builds a lazily-loading Handle for cfg. Configuration errors (unknown
// provider, missing credentials) are reported immediately; model
// availability is only checked on first use.
func New(cfg Config, log *slog.Logger) (*Handle, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = rag.DefaultDimensions
	}

	var load Loader
	switch cfg.Provider {
	case "", "hash":
		cfg.Provider = "hash"
		dims := cfg.Dimensions
		load = func(context.Context) (Backend, error) { return NewHashBackend(dims), nil }

	case "ollama":
		oc := &OllamaConfig{Host: strings.TrimRight(cfg.Endpoint, "/"), Model: cfg.Model}
		load = ProbeLoader(cfg.Dimensions, func() Backend { return NewOllamaBackend(oc) })

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		oc := &OpenAIConfig{
			BaseURL:    strings.TrimRight(cfg.Endpoint, "/"),
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}
		load = ProbeLoader(cfg.Dimensions, func() Backend { return NewOpenAIBackend(oc) })

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		oc := &OpenAIConfig{
			BaseURL:    strings.TrimRight(cfg.Endpoint, "/") + "/openai",
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		}
		load = ProbeLoader(cfg.Dimensions, func() Backend { return NewOpenAIBackend(oc) })

	default:
		return nil, fmt.Errorf("embedder: unknown provider %q, valid values: hash, ollama, openai, azure", cfg.Provider)
	}

	return NewHandle(HandleConfig{
		Name:        cfg.Provider + "/" + cfg.Model,
		Dimensions:  cfg.Dimensions,
		CallTimeout: cfg.CallTimeout,
		LoadTimeout: cfg.LoadTimeout,
		Logger:      log,
	}, load), nil
}

// NewFromEnv is New(ConfigFromEnv(), log).
func NewFromEnv(log *slog.Logger) (*Handle, error) {
	return New(ConfigFromEnv(), log)
}
