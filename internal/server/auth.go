package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/kbqa-go/internal/logging"
)

// anonymousUser is the identity used in development mode when the caller
// does not name itself.
const anonymousUser = "anonymous"

var (
	errMissingToken = errors.New("authorization required")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator resolves the user id for a request.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// TokenAuth maps bearer tokens to user ids.
type TokenAuth struct {
	tokens map[string]string
}

// ParseTokens parses "token=user,token2=user2" into a TokenAuth.
func ParseTokens(raw string) (*TokenAuth, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, user, ok := strings.Cut(pair, "=")
		tok, user = strings.TrimSpace(tok), strings.TrimSpace(user)
		if !ok || tok == "" || user == "" {
			return nil, fmt.Errorf("server: malformed KBQA_API_TOKENS entry, want token=user")
		}
		tokens[tok] = user
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("server: KBQA_API_TOKENS contains no tokens")
	}
	return &TokenAuth{tokens: tokens}, nil
}

// Authenticate returns the user bound to the request's bearer token.
func (a *TokenAuth) Authenticate(r *http.Request) (string, error) {
	token := bearerToken(r)
	if token == "" {
		return "", errMissingToken
	}
	for tok, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			return user, nil
		}
	}
	return "", errInvalidToken
}

// DevAuth trusts the X-User-ID header and falls back to "anonymous".
// It must only be used in development.
type DevAuth struct{}

// Authenticate never fails.
func (DevAuth) Authenticate(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return id, nil
	}
	return anonymousUser, nil
}

type userKey struct{}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// userFromContext returns the authenticated user id, or "" if none.
func userFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// authMiddleware resolves the caller with auth and stores the user id in
// the request context. Failures receive 401 with a WWW-Authenticate
// challenge. The presented token value is never logged.
func authMiddleware(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		userID, err := auth.Authenticate(r)
		if err != nil {
			challenge := `Bearer realm="kbqa"`
			if errors.Is(err, errInvalidToken) {
				challenge = `Bearer realm="kbqa" error="invalid_token"`
			}
			log.Warn("auth: rejected request",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", bearerToken(r) != ""),
			)
			w.Header().Set("WWW-Authenticate", challenge)
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), false)
			return
		}

		ctx := withUser(r.Context(), userID)
		ctx = logging.WithLogger(ctx, log.With(slog.String("user_id", userID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
