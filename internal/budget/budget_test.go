package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_FitPassages(t *testing.T) {
	t.Parallel()

	fixed := []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("question?")}
	// fixed = (4+1+1) + (4+1+2) = 13 tokens
	p100 := strings.Repeat("x", 400) // 100 tokens + 16 overhead = 116

	cases := []struct {
		name      string
		passages  []string
		maxTokens int
		want      int
	}{
		{name: "no passages", passages: nil, maxTokens: 100, want: 0},
		{name: "all fit", passages: []string{p100, p100}, maxTokens: 13 + 2*116, want: 2},
		{name: "drops lowest ranked", passages: []string{p100, p100, p100}, maxTokens: 13 + 2*116 + 50, want: 2},
		{name: "nothing fits", passages: []string{p100}, maxTokens: 50, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FitPassages(fixed, tc.passages, tc.maxTokens); got != tc.want {
				t.Errorf("FitPassages = %d, want %d", got, tc.want)
			}
		})
	}
}
