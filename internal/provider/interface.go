// Package provider constructs the chat model used to synthesise answers from
// retrieved passages. Synthesis is optional: with the "none" backend the
// retrieval engine answers with the formatted passages alone.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendNone disables generative synthesis.
	BackendNone Backend = "none"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name, Azure deployment or Ark endpoint id.
	Model string

	// BaseURL overrides the default API endpoint (required for Azure).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	APIKey string

	// APIVersion is the Azure OpenAI REST API version (Azure only).
	APIVersion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Enabled reports whether a chat model should be constructed at all.
func (c *Config) Enabled() bool {
	return c.Backend != "" && c.Backend != BackendNone
}

// Validate checks that the fields required by the selected backend are set.
func (c *Config) Validate() error {
	var missing []string
	need := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	switch c.Backend {
	case "", BackendNone:
		return nil
	case BackendOllama:
		need(c.Model, "SYNTH_MODEL")
	case BackendOpenAI, BackendGemini, BackendArk:
		need(c.APIKey, "SYNTH_API_KEY")
		need(c.Model, "SYNTH_MODEL")
	case BackendAzure:
		need(c.APIKey, "SYNTH_API_KEY")
		need(c.BaseURL, "SYNTH_ENDPOINT")
		need(c.Model, "SYNTH_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: none, ollama, openai, azure, ark, gemini", c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("provider: temperature %.2f out of range [0, 2]", c.Temperature)
	}
	return nil
}
