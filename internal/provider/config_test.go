package provider

import (
	"context"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		// ── Disabled ─────────────────────────────────────────────────────────
		{name: "none", cfg: Config{Backend: BackendNone}},
		{name: "empty backend", cfg: Config{}},

		// ── Ollama ────────────────────────────────────────────────────────────
		{name: "ollama/valid", cfg: Config{Backend: BackendOllama, Model: "llama3"}},
		{name: "ollama/missing model", cfg: Config{Backend: BackendOllama}, wantErr: "SYNTH_MODEL"},

		// ── OpenAI ────────────────────────────────────────────────────────────
		{name: "openai/valid", cfg: Config{Backend: BackendOpenAI, APIKey: "sk-test", Model: "gpt-4o-mini"}},
		{name: "openai/missing api key", cfg: Config{Backend: BackendOpenAI, Model: "gpt-4o"}, wantErr: "SYNTH_API_KEY"},

		// ── Azure ─────────────────────────────────────────────────────────────
		{
			name: "azure/valid",
			cfg: Config{
				Backend: BackendAzure, APIKey: "key", BaseURL: "https://my.openai.azure.com",
				Model: "gpt-4.1", APIVersion: "2024-06-01",
			},
		},
		{
			name:    "azure/missing endpoint",
			cfg:     Config{Backend: BackendAzure, APIKey: "key", Model: "gpt-4o"},
			wantErr: "SYNTH_ENDPOINT",
		},
		{
			name:    "azure/missing everything",
			cfg:     Config{Backend: BackendAzure},
			wantErr: "SYNTH_API_KEY, SYNTH_ENDPOINT, SYNTH_MODEL",
		},

		// ── Ark / Gemini ─────────────────────────────────────────────────────
		{name: "ark/valid", cfg: Config{Backend: BackendArk, APIKey: "k", Model: "ep-123"}},
		{name: "gemini/missing key", cfg: Config{Backend: BackendGemini, Model: "gemini-1.5-flash"}, wantErr: "SYNTH_API_KEY"},

		// ── Shared ───────────────────────────────────────────────────────────
		{
			name:    "temperature out of range",
			cfg:     Config{Backend: BackendOllama, Model: "llama3", Temperature: 3},
			wantErr: "temperature",
		},
		{name: "unknown backend", cfg: Config{Backend: "bedrock"}, wantErr: "unknown backend"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SYNTH_PROVIDER", "Azure")
	t.Setenv("SYNTH_MODEL", "")
	t.Setenv("SYNTH_API_KEY", "")
	t.Setenv("AZURE_OPENAI_API_KEY", "az-key")
	t.Setenv("SYNTH_ENDPOINT", "")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://x.openai.azure.com")
	t.Setenv("AZURE_OPENAI_API_VERSION", "")
	t.Setenv("SYNTH_MAX_TOKENS", "256")
	t.Setenv("SYNTH_TEMPERATURE", "0.5")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendAzure {
		t.Errorf("backend = %q, want azure", cfg.Backend)
	}
	if cfg.APIKey != "az-key" || cfg.BaseURL != "https://x.openai.azure.com" {
		t.Errorf("credentials not resolved from native vars: %+v", cfg)
	}
	if cfg.APIVersion != "2024-06-01" {
		t.Errorf("api version = %q, want default", cfg.APIVersion)
	}
	if cfg.MaxTokens != 256 || cfg.Temperature != 0.5 {
		t.Errorf("tuning = %d/%v, want 256/0.5", cfg.MaxTokens, cfg.Temperature)
	}
	if !cfg.Enabled() {
		t.Error("azure config should be enabled")
	}
}

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	m, err := New(context.Background(), &Config{Backend: BackendNone})
	if err != nil || m != nil {
		t.Fatalf("New(none) = %v, %v; want nil, nil", m, err)
	}
	if _, err := New(context.Background(), &Config{Backend: BackendOpenAI}); err == nil {
		t.Error("expected validation error")
	}
}
