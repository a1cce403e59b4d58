package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/kbqa-go/internal/rag"
)

func decodeError(t *testing.T, body string) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e
}

func TestHandleAsk_OK(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/api/ask", "/ask"} {
		t.Run(path, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, nil)
			ts.asker.answer = "Based on the knowledge base..."

			w := ts.do(http.MethodPost, path, `{"question":"what is ML?"}`, http.Header{"X-User-Id": {"alice"}})

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp askResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Answer != "Based on the knowledge base..." {
				t.Errorf("answer = %q", resp.Answer)
			}
			if ts.asker.question != "what is ML?" || ts.asker.userID != "alice" {
				t.Errorf("asker got (%q, %q)", ts.asker.question, ts.asker.userID)
			}
			if w.Header().Get(requestIDHeader) == "" {
				t.Error("missing X-Request-ID header")
			}
		})
	}
}

func TestHandleAsk_AnonymousUserInDevMode(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodPost, "/api/ask", `{"question":"q"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ts.asker.userID != anonymousUser {
		t.Errorf("userID = %q, want %q", ts.asker.userID, anonymousUser)
	}
}

func TestHandleAsk_BadBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "not json", body: "question=hi", wantStatus: http.StatusBadRequest},
		{name: "wrong type", body: `{"question":42}`, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"question":"` + strings.Repeat("x", maxAskBody) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, nil)

			w := ts.do(http.MethodPost, "/api/ask", tc.body, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if e := decodeError(t, w.Body.String()); e.Error != string(rag.KindInvalidInput) || e.Retryable {
				t.Errorf("error body = %+v", e)
			}
			if ts.asker.calls != 0 {
				t.Error("asker must not be called for a bad body")
			}
		})
	}
}

func TestHandleAsk_ErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantTag       string
		wantRetryable bool
		wantMessage   string
	}{
		{
			name:        "invalid input echoes cause",
			err:         rag.Errorf(rag.KindInvalidInput, "retrieval.ask", "question must not be empty"),
			wantStatus:  http.StatusBadRequest,
			wantTag:     "invalid_input",
			wantMessage: "question must not be empty",
		},
		{
			name:          "model unavailable",
			err:           rag.E(rag.KindModelUnavailable, "embedder.load", errors.New("dial tcp 10.0.0.9:11434")),
			wantStatus:    http.StatusServiceUnavailable,
			wantTag:       "model_unavailable",
			wantRetryable: true,
		},
		{
			name:          "embedding error",
			err:           rag.E(rag.KindEmbedding, "embedder.embed", errors.New("NaN")),
			wantStatus:    http.StatusBadGateway,
			wantTag:       "embedding_error",
			wantRetryable: true,
		},
		{
			name:          "store unavailable",
			err:           rag.E(rag.KindStoreUnavailable, "store.topk", errors.New("password=hunter2 rejected")),
			wantStatus:    http.StatusServiceUnavailable,
			wantTag:       "store_unavailable",
			wantRetryable: true,
		},
		{
			name:          "history write",
			err:           rag.E(rag.KindHistoryWrite, "retrieval.record", errors.New("disk full")),
			wantStatus:    http.StatusServiceUnavailable,
			wantTag:       "history_write_error",
			wantRetryable: true,
		},
		{
			name:       "dimension mismatch",
			err:        rag.Errorf(rag.KindDimensionMismatch, "store.topk", "got 768, want 384"),
			wantStatus: http.StatusInternalServerError,
			wantTag:    "dimension_mismatch",
		},
		{
			name:       "unclassified",
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
			wantTag:    "internal",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, nil)
			ts.asker.err = tc.err

			w := ts.do(http.MethodPost, "/api/ask", `{"question":"q"}`, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			e := decodeError(t, w.Body.String())
			if e.Error != tc.wantTag || e.Retryable != tc.wantRetryable {
				t.Errorf("body = %+v, want tag %q retryable %v", e, tc.wantTag, tc.wantRetryable)
			}
			if tc.wantMessage != "" && e.Message != tc.wantMessage {
				t.Errorf("message = %q, want %q", e.Message, tc.wantMessage)
			}
			if tc.wantStatus >= 500 && strings.Contains(e.Message, tc.err.Error()) {
				t.Errorf("server error leaked internals: %q", e.Message)
			}
		})
	}
}

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []rag.QueryRecord{
		{ID: "3", UserID: "bob", Question: "q3", Answer: "a3", AskedAt: now},
		{ID: "2", UserID: "bob", Question: "q2", Answer: "a2", AskedAt: now.Add(-time.Minute)},
		{ID: "1", UserID: "bob", Question: "q1", Answer: "a1", AskedAt: now.Add(-2 * time.Minute)},
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantN      int
		wantLen    int
	}{
		{name: "default limit", query: "", wantStatus: http.StatusOK, wantN: 50, wantLen: 3},
		{name: "explicit limit", query: "?limit=2", wantStatus: http.StatusOK, wantN: 2, wantLen: 2},
		{name: "zero limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "garbage limit", query: "?limit=ten", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, nil)
			ts.history.records = records

			w := ts.do(http.MethodGet, "/api/history"+tc.query, "", http.Header{"X-User-Id": {"bob"}})
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var resp historyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Queries) != tc.wantLen {
				t.Fatalf("len = %d, want %d", len(resp.Queries), tc.wantLen)
			}
			if resp.Queries[0].ID != "3" {
				t.Errorf("first record = %q, want most recent", resp.Queries[0].ID)
			}
			if ts.history.gotUser != "bob" || ts.history.gotN != tc.wantN {
				t.Errorf("GetN(%q, %d), want (bob, %d)", ts.history.gotUser, ts.history.gotN, tc.wantN)
			}
		})
	}
}

func TestHandleHistory_EmptyIsArray(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/history", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"queries":[]}` {
		t.Errorf("body = %s, want empty array", got)
	}
}

func TestHandleHistory_StoreError(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)
	ts.history.err = rag.E(rag.KindStoreUnavailable, "store.history", context.DeadlineExceeded)

	w := ts.do(http.MethodGet, "/api/history", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w.Body.String()); !e.Retryable {
		t.Errorf("expected retryable, got %+v", e)
	}
}

func TestRouter_TokenAuthBindsUser(t *testing.T) {
	t.Parallel()

	auth, err := ParseTokens("tok-a=alice,tok-b=bob")
	if err != nil {
		t.Fatalf("ParseTokens: %v", err)
	}
	ts := newTestServer(t, &Config{Auth: auth})

	w := ts.do(http.MethodPost, "/api/ask", `{"question":"q"}`, http.Header{
		"Authorization": {"Bearer tok-b"},
		"X-User-Id":     {"mallory"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ts.asker.userID != "bob" {
		t.Errorf("userID = %q, want bob (header must be ignored)", ts.asker.userID)
	}

	w = ts.do(http.MethodGet, "/api/history", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("history without token: status = %d, want 401", w.Code)
	}

	// Open routes stay open.
	if w := ts.do(http.MethodGet, "/api/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health: status = %d", w.Code)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, nil)

	w := ts.do(http.MethodGet, "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if e := decodeError(t, w.Body.String()); e.Error != "not_found" {
		t.Errorf("body = %+v", e)
	}

	w = ts.do(http.MethodGet, "/api/ask", "", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if e := decodeError(t, w.Body.String()); e.Error != "method_not_allowed" {
		t.Errorf("body = %+v", e)
	}
}

func TestRouter_RateLimitsAsk(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, &Config{RateLimit: 0.001, RateBurst: 1})

	if w := ts.do(http.MethodPost, "/api/ask", `{"question":"q"}`, nil); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	w := ts.do(http.MethodPost, "/api/ask", `{"question":"q"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", w.Code)
	}
	if e := decodeError(t, w.Body.String()); e.Error != "rate_limited" || !e.Retryable {
		t.Errorf("body = %+v", e)
	}

	// History is not rate limited.
	if w := ts.do(http.MethodGet, "/api/history", "", nil); w.Code != http.StatusOK {
		t.Errorf("history: status = %d", w.Code)
	}
}
