package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// It must cover embedding, search and optional synthesis.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the ask
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// Auth resolves the calling user. If nil, DevAuth is used and a warning
	// is logged at startup.
	Auth Authenticator
	// Metrics records request metrics. If nil, a fresh set is registered
	// against MetricsRegistry.
	Metrics *Metrics
	// MetricsRegistry is where metrics are registered. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// ConfigFromEnv reads KBQA_HOST, KBQA_PORT, KBQA_RATE_LIMIT, KBQA_RATE_BURST
// and KBQA_API_TOKENS.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Host:      config.String("KBQA_HOST", "127.0.0.1"),
		Port:      config.Int("KBQA_PORT", 8080),
		RateLimit: config.Float("KBQA_RATE_LIMIT", defaultRateLimit),
		RateBurst: config.Int("KBQA_RATE_BURST", defaultRateBurst),
	}
	if raw := config.String("KBQA_API_TOKENS", ""); raw != "" {
		auth, err := ParseTokens(raw)
		if err != nil {
			return nil, err
		}
		cfg.Auth = auth
	}
	return cfg, nil
}

// Asker answers a question on behalf of a user.
// *retrieval.Engine satisfies it; tests inject a fake.
type Asker interface {
	AskQuestion(ctx context.Context, question, userID string) (string, error)
}

// HistoryReader returns a user's past questions, most recent first.
// *retrieval.History satisfies it.
type HistoryReader interface {
	GetN(ctx context.Context, userID string, n int) ([]rag.QueryRecord, error)
	Limit() int
}

// Server is the HTTP front end of the question-answering engine.
type Server struct {
	// asker answers POST /api/ask.
	asker Asker
	// history serves GET /api/history.
	history HistoryReader
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wired router.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the natural language question.
	Question string `json:"question"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	Answer string `json:"answer"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	Queries []rag.QueryRecord `json:"queries"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	// Error is a stable machine-readable tag (an error kind).
	Error string `json:"error"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Retryable tells the client whether repeating the request may succeed.
	Retryable bool `json:"retryable"`
}
