package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"time"

	"github.com/54b3r/kbqa-go/internal/budget"
	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/embedder"
	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/provider"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/retrieval"
	"github.com/54b3r/kbqa-go/internal/store"
	"github.com/54b3r/kbqa-go/internal/tracing"
)

// backend bundles the embedder and the store shared by every data command.
type backend struct {
	log   *slog.Logger
	emb   *embedder.Handle
	store rag.VectorStore
	kind  string

	// provider is the embedding backend name from EMBEDDING_PROVIDER.
	provider string
	// inMemory is true for a SQLite ":memory:" store.
	inMemory bool
}

// openBackend validates the embedding configuration, opens the store sized
// to the embedder's dimensions and bootstraps its schema.
func openBackend(ctx context.Context, log *slog.Logger) (*backend, error) {
	embCfg := embedder.ConfigFromEnv()
	if err := embedder.Validate(embCfg, log); err != nil {
		return nil, err
	}
	emb, err := embedder.New(embCfg, logging.Component(log, "embedder"))
	if err != nil {
		return nil, err
	}
	log.Info("embedder configured",
		slog.String("model", emb.Name()),
		slog.Int("dimensions", emb.Dimensions()),
	)

	storeCfg := store.ConfigFromEnv()
	storeCfg.Dimensions = emb.Dimensions()
	st, err := store.Open(ctx, storeCfg, logging.Component(log, "store"))
	if err != nil {
		return nil, err
	}

	schemaCtx, cancel := context.WithTimeout(ctx, config.Duration("KBQA_SCHEMA_TIMEOUT", time.Minute))
	defer cancel()
	if err := st.EnsureSchema(schemaCtx); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("store ready", slog.String("backend", storeCfg.Backend))

	return &backend{
		log:      log,
		emb:      emb,
		store:    st,
		kind:     storeCfg.Backend,
		provider: embCfg.Provider,
		inMemory: storeCfg.Backend == store.BackendSQLite && storeCfg.SQLitePath == ":memory:",
	}, nil
}

// warnLexical logs a warning when a persistent corpus is served with the
// hash embedder, which matches shared words rather than meaning.
func (b *backend) warnLexical() {
	if b.provider != "hash" || b.inMemory {
		return
	}
	b.log.Warn("embedder: the hash backend ranks passages by shared words, not meaning; "+
		"set EMBEDDING_PROVIDER to ollama, openai or azure for semantic retrieval",
		slog.String("store", b.kind),
	)
}

// Close releases the store.
func (b *backend) Close() {
	if err := b.store.Close(); err != nil {
		b.log.Warn("store close failed", slog.Any("error", err))
	}
}

// newEngine wires the question-answering engine over b. The returned
// function flushes tracing and must be deferred.
func newEngine(ctx context.Context, b *backend, observe func(string, time.Duration)) (*retrieval.Engine, func(), error) {
	flush := tracing.Enable(b.log)

	synth, err := newSynthesizer(ctx, b.log)
	if err != nil {
		flush()
		return nil, nil, err
	}

	cfg := retrieval.ConfigFromEnv()
	cfg.Synthesizer = synth
	cfg.Logger = logging.Component(b.log, "retrieval")
	cfg.Observe = observe

	eng, err := retrieval.NewEngine(b.emb, b.store, b.store, cfg)
	if err != nil {
		flush()
		return nil, nil, err
	}
	return eng, flush, nil
}

// newSynthesizer returns the generative synthesizer when SYNTH_PROVIDER is
// configured, and the plain formatter otherwise.
func newSynthesizer(ctx context.Context, log *slog.Logger) (retrieval.Synthesizer, error) {
	cfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise synthesis provider: %w", err)
	}
	if chatModel == nil {
		log.Info("synthesis disabled, answers list the retrieved passages")
		return retrieval.ContextFormatter{}, nil
	}
	log.Info("synthesis enabled",
		slog.String("provider", string(cfg.Backend)),
		slog.String("model", cfg.Model),
	)
	maxCtx := config.Int("SYNTH_MAX_CONTEXT_TOKENS", budget.DefaultMaxContextTokens)
	return retrieval.NewGenerativeSynthesizer(chatModel, maxCtx, logging.Component(log, "synth")), nil
}

// defaultUser is the CLI identity when --user is not given.
func defaultUser() string {
	if u := os.Getenv("KBQA_USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
