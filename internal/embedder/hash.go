package embedder

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashBackend is a local, deterministic embedding backend based on feature
// hashing: each lower-cased word token is hashed into one of dims buckets
// and weighted by 1+ln(tf). All weights are non-negative, so two texts
// sharing a token always have positive similarity. It needs no model
// download and no network, which makes it the offline and test default.
type HashBackend struct {
	dims int
}

// NewHashBackend returns a HashBackend producing vectors of length dims.
func NewHashBackend(dims int) *HashBackend {
	return &HashBackend{dims: dims}
}

// EmbedBatch returns one raw (unnormalised) vector per text.
func (h *HashBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashBackend) vector(text string) []float32 {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}

	v := make([]float32, h.dims)
	for tok, n := range counts {
		bucket := xxhash.Sum64String(tok) % uint64(h.dims)
		v[bucket] += float32(1 + math.Log(float64(n)))
	}
	return v
}

// tokenize splits text into lower-cased runs of letters and digits.
// Text with no such runs (punctuation only) falls back to its individual
// non-space runes so every non-blank input has at least one feature.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) > 0 {
		return fields
	}
	var runes []string
	for _, r := range text {
		if !unicode.IsSpace(r) {
			runes = append(runes, string(r))
		}
	}
	return runes
}
