// Package retrieval answers questions from the knowledge base. The Engine
// embeds the question, fetches the nearest documents, turns them into an
// answer through a Synthesizer and records the exchange in the user's
// history. History reads go through History.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/rag"
)

const (
	// DefaultK is the number of passages retrieved per question.
	DefaultK = 5
	// DefaultStoreTimeout bounds each store call made while answering.
	DefaultStoreTimeout = 10 * time.Second
)

// Outcome labels reported to Config.Observe.
const (
	OutcomeAnswered = "answered"
	OutcomeNoMatch  = "no_match"
)

// Config tunes the Engine. Zero values select the defaults.
type Config struct {
	// K is the number of matches requested from the store.
	K int
	// StoreTimeout bounds TopKSimilar and AppendQueryRecord independently.
	StoreTimeout time.Duration
	// Synthesizer defaults to ContextFormatter.
	Synthesizer Synthesizer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Observe is called once per AskQuestion with the outcome (OutcomeAnswered,
	// OutcomeNoMatch or an error kind) and the elapsed time. Optional.
	Observe func(outcome string, took time.Duration)
}

// ConfigFromEnv reads KBQA_TOP_K and KBQA_STORE_TIMEOUT.
func ConfigFromEnv() Config {
	return Config{
		K:            config.Int("KBQA_TOP_K", DefaultK),
		StoreTimeout: config.Duration("KBQA_STORE_TIMEOUT", DefaultStoreTimeout),
	}
}

// Engine is safe for concurrent use.
type Engine struct {
	embedder rag.Embedder
	docs     rag.DocumentStore
	history  rag.HistoryStore
	cfg      Config
	log      *slog.Logger
}

// NewEngine wires an Engine. docs and history are usually the same VectorStore.
func NewEngine(embedder rag.Embedder, docs rag.DocumentStore, history rag.HistoryStore, cfg Config) (*Engine, error) {
	if embedder == nil || docs == nil || history == nil {
		return nil, fmt.Errorf("retrieval: embedder, document store and history store are required")
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Synthesizer == nil {
		cfg.Synthesizer = ContextFormatter{}
	}
	if cfg.Observe == nil {
		cfg.Observe = func(string, time.Duration) {}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{embedder: embedder, docs: docs, history: history, cfg: cfg, log: log}, nil
}

// AskQuestion answers question for userID and records the exchange.
//
// Errors carry a rag.Kind: InvalidInput for a blank question or user,
// ModelUnavailable/EmbeddingError from the embedder, StoreUnavailable when
// the search fails, HistoryWriteError when the answer could not be recorded.
// An empty knowledge base is not an error: the answer is NoMatchAnswer.
func (e *Engine) AskQuestion(ctx context.Context, question, userID string) (answer string, err error) {
	start := time.Now()
	outcome := OutcomeAnswered
	defer func() {
		if err != nil {
			outcome = string(rag.KindOf(err))
		}
		e.cfg.Observe(outcome, time.Since(start))
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return "", rag.Errorf(rag.KindInvalidInput, "retrieval.ask", "question must not be empty")
	}
	if strings.TrimSpace(userID) == "" {
		return "", rag.Errorf(rag.KindInvalidInput, "retrieval.ask", "user id must not be empty")
	}

	emb, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return "", err
	}

	matches, err := e.search(ctx, emb)
	if err != nil {
		return "", err
	}

	if len(matches) == 0 {
		outcome = OutcomeNoMatch
		answer = NoMatchAnswer
	} else {
		answer, err = e.cfg.Synthesizer.Synthesize(ctx, question, matches)
		if err != nil || strings.TrimSpace(answer) == "" {
			e.log.Warn("retrieval: synthesizer failed, using formatted passages", slog.Any("error", err))
			answer = FormatMatches(matches)
		}
	}

	if err := e.record(ctx, userID, question, answer); err != nil {
		return "", err
	}

	e.log.Debug("retrieval: question answered",
		slog.String("user_id", userID),
		slog.Int("matches", len(matches)),
		slog.Duration("took", time.Since(start)),
	)
	return answer, nil
}

func (e *Engine) search(ctx context.Context, emb []float32) ([]rag.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	matches, err := e.docs.TopKSimilar(ctx, emb, e.cfg.K)
	if err != nil {
		if rag.IsKind(err, rag.KindDimensionMismatch) {
			e.log.Error("retrieval: embedding dimensions do not match the store schema", slog.Any("error", err))
			return nil, err
		}
		return nil, rag.Classify(rag.KindStoreUnavailable, "retrieval.search", err)
	}
	return matches, nil
}

func (e *Engine) record(ctx context.Context, userID, question, answer string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()

	if _, err := e.history.AppendQueryRecord(ctx, userID, question, answer); err != nil {
		e.log.Error("retrieval: history write failed", slog.String("user_id", userID), slog.Any("error", err))
		return rag.E(rag.KindHistoryWrite, "retrieval.record", err)
	}
	return nil
}
