package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/kbqa-go/internal/budget"
	"github.com/54b3r/kbqa-go/internal/rag"
)

const (
	// NoMatchAnswer is returned when the knowledge base has nothing to offer.
	NoMatchAnswer = "No relevant information found in the knowledge base."

	answerPreamble = "Based on the knowledge base, here are the most relevant passages:\n\n"
	matchSeparator = "\n\n---\n\n"
	untitled       = "Untitled"
)

// Synthesizer turns ranked matches into the answer returned to the user.
// matches is never empty.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, matches []rag.Match) (string, error)
}

// ContextFormatter answers with the retrieved passages themselves.
type ContextFormatter struct{}

// Synthesize never fails.
func (ContextFormatter) Synthesize(_ context.Context, _ string, matches []rag.Match) (string, error) {
	return FormatMatches(matches), nil
}

// FormatMatches renders matches in rank order:
//
//	Based on the knowledge base, here are the most relevant passages:
//
//	[Document 1 - 87.3% match]
//	Title
//	Content
//
//	---
//
//	[Document 2 - ...
func FormatMatches(matches []rag.Match) string {
	var b strings.Builder
	b.WriteString(answerPreamble)
	for i, m := range matches {
		if i > 0 {
			b.WriteString(matchSeparator)
		}
		b.WriteString(formatMatch(i, m))
	}
	return b.String()
}

func formatMatch(i int, m rag.Match) string {
	rank := m.Rank
	if rank <= 0 {
		rank = i + 1
	}
	title := strings.TrimSpace(m.Document.Title)
	if title == "" {
		title = untitled
	}
	return fmt.Sprintf("[Document %d - %.1f%% match]\n%s\n%s", rank, float64(m.Score)*100, title, m.Document.Content)
}

const systemPrompt = `You answer questions using only the passages from the knowledge base provided by the user.
Cite passages by their document number, e.g. [Document 2].
If the passages do not contain the answer, say that the knowledge base does not cover it.
Be concise.`

// GenerativeSynthesizer asks a chat model to answer from the retrieved
// passages. Any model failure, empty output, or a prompt that cannot fit a
// single passage falls back to the ContextFormatter output.
type GenerativeSynthesizer struct {
	model            model.BaseChatModel
	maxContextTokens int
	log              *slog.Logger
}

// NewGenerativeSynthesizer wraps m. maxContextTokens <= 0 selects
// budget.DefaultMaxContextTokens.
func NewGenerativeSynthesizer(m model.BaseChatModel, maxContextTokens int, log *slog.Logger) *GenerativeSynthesizer {
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &GenerativeSynthesizer{model: m, maxContextTokens: maxContextTokens, log: log}
}

// Synthesize never returns an error; failures degrade to the formatted passages.
func (g *GenerativeSynthesizer) Synthesize(ctx context.Context, question string, matches []rag.Match) (string, error) {
	fallback := FormatMatches(matches)

	passages := make([]string, len(matches))
	for i, m := range matches {
		passages[i] = formatMatch(i, m)
	}
	fixed := []*schema.Message{schema.SystemMessage(systemPrompt), schema.UserMessage(question)}
	n := budget.FitPassages(fixed, passages, g.maxContextTokens)
	if n == 0 {
		g.log.Warn("synthesis: best passage exceeds the context budget, using formatted passages",
			slog.Int("max_context_tokens", g.maxContextTokens))
		return fallback, nil
	}
	if n < len(passages) {
		g.log.Debug("synthesis: trimmed passages to fit budget",
			slog.Int("kept", n), slog.Int("retrieved", len(passages)))
	}

	prompt := "Passages:\n\n" + strings.Join(passages[:n], matchSeparator) + "\n\nQuestion: " + question
	msg, err := g.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	})
	if err != nil {
		g.log.Warn("synthesis: model call failed, using formatted passages", slog.Any("error", err))
		return fallback, nil
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		g.log.Warn("synthesis: model returned an empty answer, using formatted passages")
		return fallback, nil
	}
	return strings.TrimSpace(msg.Content), nil
}
