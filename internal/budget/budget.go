// Package budget provides token budget estimation and passage trimming for
// answer synthesis. Because synthesis supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code).
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits within 8k-context models while leaving room for the output.
	DefaultMaxContextTokens = 6000

	// perPassageOverhead covers the header line and separator of each passage.
	perPassageOverhead = 16
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// ~4 tokens of per-message overhead in most APIs.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// FitPassages returns how many of the rank-ordered passages fit alongside
// the fixed messages (system prompt, question) within maxTokens. Passages
// are kept best-first, so trimming always drops the lowest-ranked ones.
//
// A result of 0 means not even the best passage fits; callers decide
// whether to fall back or send the prompt without context.
func FitPassages(fixed []*schema.Message, passages []string, maxTokens int) int {
	used := EstimateMessages(fixed)
	for i, p := range passages {
		used += perPassageOverhead + Estimate(p)
		if used > maxTokens {
			return i
		}
	}
	return len(passages)
}
