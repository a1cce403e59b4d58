package retrieval

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/kbqa-go/internal/embedder"
	"github.com/54b3r/kbqa-go/internal/ingestion"
	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
	"github.com/54b3r/kbqa-go/internal/store"
)

// fixture is an engine over the hash embedder and an in-memory SQLite store.
type fixture struct {
	engine   *Engine
	embedder *embedder.Handle
	store    *store.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	emb, err := embedder.New(embedder.Config{Provider: "hash"}, logging.Discard())
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	st, err := store.OpenSQLite(":memory:", emb.Dimensions(), logging.Discard())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}

	eng, err := NewEngine(emb, st, st, Config{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &fixture{engine: eng, embedder: emb, store: st}
}

func (f *fixture) ingest(t *testing.T, docs ...ingestion.Input) {
	t.Helper()
	p, err := ingestion.NewPipeline(f.embedder, f.store, ingestion.Config{
		Policy: ingestion.PolicyIncremental,
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	res, err := p.Ingest(context.Background(), docs)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(res.Failures) > 0 {
		t.Fatalf("ingest failures: %+v", res.Failures)
	}
}

var headerRE = regexp.MustCompile(`^\[Document (\d+) - (\d+\.\d)% match\]$`)

func TestAskQuestion_TopMatchIsIngestedDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ingest(t,
		ingestion.Input{Title: "T1", Content: "cats are mammals"},
		ingestion.Input{Title: "T2", Content: "rust prevents data races at compile time"},
	)

	answer, err := f.engine.AskQuestion(context.Background(), "what are cats", "alice")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}

	body, ok := strings.CutPrefix(answer, answerPreamble)
	if !ok {
		t.Fatalf("answer missing preamble: %q", answer)
	}
	first := strings.Split(strings.Split(body, matchSeparator)[0], "\n")
	if len(first) < 3 {
		t.Fatalf("malformed first match: %q", first)
	}
	m := headerRE.FindStringSubmatch(first[0])
	if m == nil {
		t.Fatalf("header %q does not match %s", first[0], headerRE)
	}
	if m[1] != "1" || m[2] == "0.0" {
		t.Errorf("header = %q, want rank 1 with positive similarity", first[0])
	}
	if first[1] != "T1" {
		t.Errorf("top title = %q, want T1", first[1])
	}
	if first[2] != "cats are mammals" {
		t.Errorf("top content = %q", first[2])
	}
}

func TestAskQuestion_EmptyCorpusReturnsSentinel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	answer, err := f.engine.AskQuestion(context.Background(), "anything at all?", "bob")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if answer != NoMatchAnswer {
		t.Errorf("answer = %q, want sentinel", answer)
	}

	h, err := NewHistory(f.store, 0).Get(context.Background(), "bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != 1 || h[0].Answer != NoMatchAnswer {
		t.Errorf("sentinel answer should still be recorded, got %+v", h)
	}
}

func TestHistory_MostRecentFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.ingest(t, ingestion.Input{Title: "Go", Content: "go has goroutines and channels"})
	ctx := context.Background()

	for _, q := range []string{"what are goroutines", "what are channels"} {
		if _, err := f.engine.AskQuestion(ctx, q, "carol"); err != nil {
			t.Fatalf("AskQuestion(%q): %v", q, err)
		}
	}
	if _, err := f.engine.AskQuestion(ctx, "unrelated user", "dave"); err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}

	records, err := NewHistory(f.store, 0).Get(ctx, "carol")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Question != "what are channels" || records[1].Question != "what are goroutines" {
		t.Errorf("order = [%q, %q], want most recent first", records[0].Question, records[1].Question)
	}
	for _, r := range records {
		if r.Answer == "" || r.UserID != "carol" || r.AskedAt.IsZero() {
			t.Errorf("incomplete record: %+v", r)
		}
	}
}

// countingEmbedder records calls and returns a fixed vector.
type countingEmbedder struct {
	calls atomic.Int64
	err   error
}

func (c *countingEmbedder) Dimensions() int { return 3 }

func (c *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []float32{1, 0, 0}, nil
}

// fakeStore implements DocumentStore and HistoryStore with injectable failures.
type fakeStore struct {
	rag.DocumentStore
	matches   []rag.Match
	topKErr   error
	block     bool
	appendErr error

	mu      sync.Mutex
	records []rag.QueryRecord
}

func (s *fakeStore) TopKSimilar(ctx context.Context, _ []float32, k int) ([]rag.Match, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.topKErr != nil {
		return nil, s.topKErr
	}
	if len(s.matches) > k {
		return s.matches[:k], nil
	}
	return s.matches, nil
}

func (s *fakeStore) AppendQueryRecord(_ context.Context, userID, question, answer string) (string, error) {
	if s.appendErr != nil {
		return "", s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rag.QueryRecord{UserID: userID, Question: question, Answer: answer})
	return "1", nil
}

func (s *fakeStore) GetHistory(context.Context, string, int) ([]rag.QueryRecord, error) {
	return nil, rag.Errorf(rag.KindStoreUnavailable, "fake.history", "down")
}

func newFakeEngine(t *testing.T, emb rag.Embedder, st *fakeStore, cfg Config) *Engine {
	t.Helper()
	cfg.Logger = logging.Discard()
	e, err := NewEngine(emb, st, st, cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

var oneMatch = []rag.Match{{Document: rag.Document{ID: "1", Title: "A", Content: "alpha"}, Score: 0.5, Rank: 1}}

func TestAskQuestion_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		question  string
		user      string
		embedErr  error
		store     *fakeStore
		wantKind  rag.Kind
		wantEmbed bool
	}{
		{name: "blank question", question: "  \t", user: "u", store: &fakeStore{}, wantKind: rag.KindInvalidInput},
		{name: "blank user", question: "q", user: "", store: &fakeStore{}, wantKind: rag.KindInvalidInput},
		{
			name: "model unavailable", question: "q", user: "u", store: &fakeStore{},
			embedErr: rag.Errorf(rag.KindModelUnavailable, "embed", "loading"), wantKind: rag.KindModelUnavailable, wantEmbed: true,
		},
		{
			name: "store down", question: "q", user: "u", store: &fakeStore{topKErr: errors.New("connection refused")},
			wantKind: rag.KindStoreUnavailable, wantEmbed: true,
		},
		{
			name: "dimension mismatch", question: "q", user: "u",
			store:    &fakeStore{topKErr: rag.Errorf(rag.KindDimensionMismatch, "store.topk", "got 3, want 384")},
			wantKind: rag.KindDimensionMismatch, wantEmbed: true,
		},
		{
			name: "history write fails", question: "q", user: "u",
			store:    &fakeStore{matches: oneMatch, appendErr: rag.Errorf(rag.KindStoreUnavailable, "append", "disk full")},
			wantKind: rag.KindHistoryWrite, wantEmbed: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			emb := &countingEmbedder{err: tc.embedErr}
			e := newFakeEngine(t, emb, tc.store, Config{})

			answer, err := e.AskQuestion(context.Background(), tc.question, tc.user)
			if err == nil {
				t.Fatalf("expected error, got answer %q", answer)
			}
			if got := rag.KindOf(err); got != tc.wantKind {
				t.Errorf("kind = %q, want %q (err: %v)", got, tc.wantKind, err)
			}
			if called := emb.calls.Load() > 0; called != tc.wantEmbed {
				t.Errorf("embedder called = %v, want %v", called, tc.wantEmbed)
			}
		})
	}
}

func TestAskQuestion_StoreTimeout(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, &countingEmbedder{}, &fakeStore{block: true}, Config{StoreTimeout: 20 * time.Millisecond})

	_, err := e.AskQuestion(context.Background(), "q", "u")
	if !rag.IsKind(err, rag.KindStoreUnavailable) {
		t.Fatalf("err = %v, want store_unavailable", err)
	}
	if !rag.KindOf(err).Retryable() {
		t.Error("store timeout should be retryable")
	}
}

func TestAskQuestion_RequestsK(t *testing.T) {
	t.Parallel()
	matches := make([]rag.Match, 8)
	for i := range matches {
		matches[i] = rag.Match{Document: rag.Document{Content: "c"}, Score: 0.1, Rank: i + 1}
	}
	st := &fakeStore{matches: matches}
	e := newFakeEngine(t, &countingEmbedder{}, st, Config{K: 3})

	answer, err := e.AskQuestion(context.Background(), "q", "u")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if got := strings.Count(answer, "[Document "); got != 3 {
		t.Errorf("answer lists %d documents, want 3", got)
	}
	if len(st.records) != 1 || st.records[0].Answer != answer {
		t.Errorf("recorded %+v, want the returned answer", st.records)
	}
}

func TestAskQuestion_Observe(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var outcomes []string
	observe := func(o string, _ time.Duration) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	e := newFakeEngine(t, &countingEmbedder{}, &fakeStore{matches: oneMatch}, Config{Observe: observe})
	_, _ = e.AskQuestion(context.Background(), "q", "u")
	_, _ = e.AskQuestion(context.Background(), "", "u")

	empty := newFakeEngine(t, &countingEmbedder{}, &fakeStore{}, Config{Observe: observe})
	_, _ = empty.AskQuestion(context.Background(), "q", "u")

	want := []string{OutcomeAnswered, string(rag.KindInvalidInput), OutcomeNoMatch}
	if strings.Join(outcomes, ",") != strings.Join(want, ",") {
		t.Errorf("outcomes = %v, want %v", outcomes, want)
	}
}

// failingSynth always errors.
type failingSynth struct{}

func (failingSynth) Synthesize(context.Context, string, []rag.Match) (string, error) {
	return "", errors.New("boom")
}

func TestAskQuestion_SynthesizerFailureFallsBack(t *testing.T) {
	t.Parallel()
	e := newFakeEngine(t, &countingEmbedder{}, &fakeStore{matches: oneMatch}, Config{Synthesizer: failingSynth{}})

	answer, err := e.AskQuestion(context.Background(), "q", "u")
	if err != nil {
		t.Fatalf("AskQuestion: %v", err)
	}
	if answer != FormatMatches(oneMatch) {
		t.Errorf("answer = %q, want formatted passages", answer)
	}
}

func TestHistory_Get(t *testing.T) {
	t.Parallel()

	h := NewHistory(&fakeStore{}, 0)
	if h.Limit() != DefaultHistoryLimit {
		t.Errorf("limit = %d, want %d", h.Limit(), DefaultHistoryLimit)
	}
	if _, err := h.Get(context.Background(), ""); !rag.IsKind(err, rag.KindInvalidInput) {
		t.Errorf("blank user err = %v, want invalid_input", err)
	}
	if _, err := h.Get(context.Background(), "u"); !rag.IsKind(err, rag.KindStoreUnavailable) {
		t.Errorf("store failure err = %v, want store_unavailable passed through", err)
	}
}

func TestHistory_GetNClamps(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for range 4 {
		if _, err := f.engine.AskQuestion(ctx, "q", "erin"); err != nil {
			t.Fatal(err)
		}
	}

	h := NewHistory(f.store, 3)
	tests := []struct {
		n    int
		want int
	}{
		{n: 1, want: 1},
		{n: 0, want: 3},
		{n: 100, want: 3},
	}
	for _, tc := range tests {
		got, err := h.GetN(ctx, "erin", tc.n)
		if err != nil {
			t.Fatalf("GetN(%d): %v", tc.n, err)
		}
		if len(got) != tc.want {
			t.Errorf("GetN(%d) returned %d records, want %d", tc.n, len(got), tc.want)
		}
	}
}
