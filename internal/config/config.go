// Package config provides YAML-based configuration for kbqa.
// Configuration is loaded with a layered precedence:
// defaults → YAML file → .env file → env vars.
// Environment variables always win, so container deployments need no file.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. KBQA_CONFIG environment variable
//  3. ~/.kbqa/config.yaml
//  4. ./kbqa.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Store selects and configures the document/history backend.
	Store StoreConfig `yaml:"store"`

	// Embedding configures the embedding model.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval configures answer generation.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Ingestion configures the ingestion pipeline.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Synthesis configures the optional chat model used to rewrite answers.
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	// Backend is one of postgres, sqlite, qdrant.
	Backend string `yaml:"backend"`
	// DatabaseURL is the postgres connection string. Prefer env var DATABASE_URL.
	DatabaseURL string `yaml:"database_url"`
	// MaxConns caps the postgres connection pool.
	MaxConns int `yaml:"max_conns"`
	// Index selects the ANN index for postgres: hnsw (default), ivfflat, none.
	Index string `yaml:"index"`
	// IndexLists is the ivfflat lists parameter.
	IndexLists int `yaml:"index_lists"`
	// SQLitePath is the SQLite database path (documents, or history for qdrant).
	SQLitePath string `yaml:"sqlite_path"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (hash, ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the embedding vector size. Must match the store schema.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds a single embed call (Go duration, e.g. "30s").
	Timeout string `yaml:"timeout"`
}

// RetrievalConfig holds retrieval engine settings.
type RetrievalConfig struct {
	// TopK is the number of passages returned per question.
	TopK int `yaml:"top_k"`
	// HistoryLimit caps the records returned by the history endpoint.
	HistoryLimit int `yaml:"history_limit"`
	// StoreTimeout bounds each store call (Go duration).
	StoreTimeout string `yaml:"store_timeout"`
}

// IngestionConfig holds ingestion settings.
type IngestionConfig struct {
	// Policy is replace or incremental.
	Policy string `yaml:"policy"`
	// Workers bounds concurrent embed+upsert operations.
	Workers int `yaml:"workers"`
}

// SynthesisConfig holds chat model settings for answer synthesis.
type SynthesisConfig struct {
	// Provider selects the backend: none, ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// Model is the chat model name (or Azure deployment / Ark endpoint id).
	Model string `yaml:"model"`
	// APIKey is the provider API key. Prefer env var SYNTH_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the provider base URL.
	Endpoint string `yaml:"endpoint"`
	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APITokens maps bearer tokens to user ids: "token=user,token2=user2".
	// Prefer env var KBQA_API_TOKENS.
	APITokens string `yaml:"api_tokens"`
	// RateLimit is the sustained /api/ask requests per second per client IP.
	RateLimit float32 `yaml:"rate_limit"`
	// RateBurst is the token bucket size.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"KBQA_STORE", func(c *Config) string { return c.Store.Backend }},
	{"DATABASE_URL", func(c *Config) string { return c.Store.DatabaseURL }},
	{"KBQA_DB_MAX_CONNS", func(c *Config) string { return intStr(c.Store.MaxConns) }},
	{"KBQA_VECTOR_INDEX", func(c *Config) string { return c.Store.Index }},
	{"KBQA_VECTOR_INDEX_LISTS", func(c *Config) string { return intStr(c.Store.IndexLists) }},
	{"KBQA_SQLITE_PATH", func(c *Config) string { return c.Store.SQLitePath }},
	{"QDRANT_HOST", func(c *Config) string { return c.Store.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Store.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Store.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Store.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Store.Qdrant.TLS) }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"KBQA_EMBED_TIMEOUT", func(c *Config) string { return c.Embedding.Timeout }},
	{"KBQA_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"KBQA_HISTORY_LIMIT", func(c *Config) string { return intStr(c.Retrieval.HistoryLimit) }},
	{"KBQA_STORE_TIMEOUT", func(c *Config) string { return c.Retrieval.StoreTimeout }},
	{"KBQA_INGEST_POLICY", func(c *Config) string { return c.Ingestion.Policy }},
	{"KBQA_INGEST_WORKERS", func(c *Config) string { return intStr(c.Ingestion.Workers) }},
	{"SYNTH_PROVIDER", func(c *Config) string { return c.Synthesis.Provider }},
	{"SYNTH_MODEL", func(c *Config) string { return c.Synthesis.Model }},
	{"SYNTH_API_KEY", func(c *Config) string { return c.Synthesis.APIKey }},
	{"SYNTH_ENDPOINT", func(c *Config) string { return c.Synthesis.Endpoint }},
	{"SYNTH_MAX_TOKENS", func(c *Config) string { return intStr(c.Synthesis.MaxTokens) }},
	{"SYNTH_TEMPERATURE", func(c *Config) string { return float32Str(c.Synthesis.Temperature) }},
	{"KBQA_HOST", func(c *Config) string { return c.Server.Host }},
	{"KBQA_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"KBQA_API_TOKENS", func(c *Config) string { return c.Server.APITokens }},
	{"KBQA_RATE_LIMIT", func(c *Config) string { return float32Str(c.Server.RateLimit) }},
	{"KBQA_RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables, after first loading a .env file from the working directory if
// present. Existing env vars are never overwritten (env always wins), and
// .env values beat the YAML file. Returns the YAML path that was loaded, or
// empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: failed to load %s: %w", path, err)
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("KBQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".kbqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("kbqa.yaml"); err == nil {
		return "kbqa.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
