package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/kbqa-go/internal/config"
)

// defaultModels are used when SYNTH_MODEL is unset.
var defaultModels = map[Backend]string{
	BackendOllama: "llama3",
	BackendOpenAI: "gpt-4o-mini",
	BackendGemini: "gemini-1.5-flash",
}

// ConfigFromEnv resolves the synthesis provider from environment variables.
//
// Environment variables:
//
//	SYNTH_PROVIDER    = none | ollama | openai | azure | ark | gemini (default: none)
//	SYNTH_MODEL       model name / Azure deployment / Ark endpoint id
//	SYNTH_API_KEY     falls back to OPENAI_API_KEY, AZURE_OPENAI_API_KEY,
//	                  ARK_API_KEY or GOOGLE_API_KEY for the matching backend
//	SYNTH_ENDPOINT    falls back to OLLAMA_HOST or AZURE_OPENAI_ENDPOINT
//	AZURE_OPENAI_API_VERSION (default: 2024-06-01)
//	SYNTH_MAX_TOKENS  (default: 1024)
//	SYNTH_TEMPERATURE (default: 0.2)
func ConfigFromEnv() *Config {
	cfg := &Config{
		Backend:     Backend(strings.ToLower(config.String("SYNTH_PROVIDER", string(BackendNone)))),
		MaxTokens:   config.Int("SYNTH_MAX_TOKENS", 1024),
		Temperature: float32(config.Float("SYNTH_TEMPERATURE", 0.2)),
	}
	cfg.Model = config.String("SYNTH_MODEL", defaultModels[cfg.Backend])

	switch cfg.Backend {
	case BackendOllama:
		cfg.BaseURL = config.FirstString("http://localhost:11434", "SYNTH_ENDPOINT", "OLLAMA_HOST")
	case BackendOpenAI:
		cfg.APIKey = config.FirstString("", "SYNTH_API_KEY", "OPENAI_API_KEY")
		cfg.BaseURL = config.String("SYNTH_ENDPOINT", "")
	case BackendAzure:
		cfg.APIKey = config.FirstString("", "SYNTH_API_KEY", "AZURE_OPENAI_API_KEY")
		cfg.BaseURL = config.FirstString("", "SYNTH_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		cfg.APIVersion = config.String("AZURE_OPENAI_API_VERSION", "2024-06-01")
	case BackendArk:
		cfg.APIKey = config.FirstString("", "SYNTH_API_KEY", "ARK_API_KEY")
		cfg.BaseURL = config.String("SYNTH_ENDPOINT", "")
	case BackendGemini:
		cfg.APIKey = config.FirstString("", "SYNTH_API_KEY", "GOOGLE_API_KEY")
	}
	return cfg
}

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first question.
// It returns (nil, nil) when synthesis is disabled.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
}

// NewFromEnv is New(ctx, ConfigFromEnv()).
func NewFromEnv(ctx context.Context) (model.BaseChatModel, error) {
	return New(ctx, ConfigFromEnv())
}
