package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If the embedding model matches
// any of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate is a pre-flight check run before the store is opened, so
// operators get a clear error at startup instead of a failure on the first
// request. It returns an error when cfg is clearly broken and logs a warning
// when the model name looks like a chat model or the hash backend is used
// outside of development.
func Validate(cfg Config, log *slog.Logger) error {
	if cfg.Dimensions <= 0 {
		return fmt.Errorf("embedder: dimensions must be positive, got %d", cfg.Dimensions)
	}

	switch cfg.Provider {
	case "", "hash":
		log.Warn("embedder: using the local hashing embedder; similarity is lexical, not semantic",
			slog.String("hint", "set EMBEDDING_PROVIDER=ollama (or openai/azure) for a neural model"),
		)
		return nil
	case "openai", "azure":
		if cfg.APIKey == "" {
			return fmt.Errorf("embedder: no API key found for %s, set EMBEDDING_API_KEY", cfg.Provider)
		}
		if cfg.Provider == "azure" && cfg.Endpoint == "" {
			return fmt.Errorf("embedder: no Azure endpoint found, set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "ollama":
	default:
		return fmt.Errorf("embedder: unknown provider %q", cfg.Provider)
	}

	if cfg.Model != "" && looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, text-embedding-3-small"),
		)
	}

	return nil
}
