package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// userEcho writes the authenticated user id as the response body.
var userEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(userFromContext(r.Context())))
})

func newTokenAuth(t *testing.T) *TokenAuth {
	t.Helper()
	auth, err := ParseTokens("secret=alice, other=bob")
	if err != nil {
		t.Fatalf("ParseTokens: %v", err)
	}
	return auth
}

func TestParseTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		wantErr bool
		wantLen int
	}{
		{raw: "a=alice", wantLen: 1},
		{raw: " a = alice , b=bob ,", wantLen: 2},
		{raw: "", wantErr: true},
		{raw: ",,", wantErr: true},
		{raw: "a", wantErr: true},
		{raw: "=alice", wantErr: true},
		{raw: "a=", wantErr: true},
	}
	for _, tc := range cases {
		auth, err := ParseTokens(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("raw=%q: err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			continue
		}
		if err == nil && len(auth.tokens) != tc.wantLen {
			t.Errorf("raw=%q: %d tokens, want %d", tc.raw, len(auth.tokens), tc.wantLen)
		}
	}
}

// TestAuthMiddleware_DevAuth verifies that DevAuth takes the user from
// X-User-ID and falls back to the anonymous user.
func TestAuthMiddleware_DevAuth(t *testing.T) {
	t.Parallel()

	h := authMiddleware(DevAuth{}, userEcho)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != anonymousUser {
		t.Errorf("no header: %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("X-User-ID", "  carol ")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Body.String() != "carol" {
		t.Errorf("user = %q, want carol", w.Body.String())
	}
}

// TestAuthMiddleware_MissingHeader verifies that a request with no
// Authorization header receives 401 when tokens are configured.
func TestAuthMiddleware_MissingHeader(t *testing.T) {
	t.Parallel()

	h := authMiddleware(newTokenAuth(t), okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="kbqa"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
	if e := decodeError(t, w.Body.String()); e.Error != "unauthorized" {
		t.Errorf("body = %+v", e)
	}
}

// TestAuthMiddleware_WrongToken verifies that an unknown Bearer token
// receives 401 with an invalid_token challenge.
func TestAuthMiddleware_WrongToken(t *testing.T) {
	t.Parallel()

	h := authMiddleware(newTokenAuth(t), okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != `Bearer realm="kbqa" error="invalid_token"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

// TestAuthMiddleware_CorrectToken verifies that each token resolves to its
// own user.
func TestAuthMiddleware_CorrectToken(t *testing.T) {
	t.Parallel()

	h := authMiddleware(newTokenAuth(t), userEcho)
	for token, user := range map[string]string{"secret": "alice", "other": "bob"} {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK || w.Body.String() != user {
			t.Errorf("token %q: %d %q, want 200 %q", token, w.Code, w.Body.String(), user)
		}
	}
}

// TestAuthMiddleware_CaseInsensitiveScheme verifies that "bearer" (lowercase)
// is accepted as well as "Bearer".
func TestAuthMiddleware_CaseInsensitiveScheme(t *testing.T) {
	t.Parallel()

	h := authMiddleware(newTokenAuth(t), okHandler)
	req := httptest.NewRequest(http.MethodPost, "/api/ask", nil)
	req.Header.Set("Authorization", "bearer secret")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with lowercase bearer scheme, got %d", w.Code)
	}
}

// TestAuthMiddleware_MalformedHeader verifies that a non-Bearer Authorization
// header (e.g. Basic auth) is rejected with 401.
func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	t.Parallel()

	h := authMiddleware(newTokenAuth(t), okHandler)
	req := httptest.NewRequest(http.MethodPost, "/api/ask", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for Basic auth header, got %d", w.Code)
	}
}

// TestBearerToken verifies the bearerToken extraction helper.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got := bearerToken(req)
		if got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
