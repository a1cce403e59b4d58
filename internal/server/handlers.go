package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// maxAskBody bounds the POST /api/ask request body.
const maxAskBody = 64 << 10

// handleAsk handles POST /api/ask. The answer is returned once the
// exchange has been recorded in the caller's history.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBody)
	defer r.Body.Close()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, string(rag.KindInvalidInput), "request body too large", false)
			return
		}
		writeError(w, http.StatusBadRequest, string(rag.KindInvalidInput), "invalid request body", false)
		return
	}

	answer, err := s.asker.AskQuestion(r.Context(), req.Question, userFromContext(r.Context()))
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, askResponse{Answer: answer})
}

// handleHistory handles GET /api/history[?limit=N].
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.history.Limit()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, string(rag.KindInvalidInput), "limit must be a positive integer", false)
			return
		}
		limit = n
	}

	records, err := s.history.GetN(r.Context(), userFromContext(r.Context()), limit)
	if err != nil {
		writeKindError(w, r, err)
		return
	}
	if records == nil {
		records = []rag.QueryRecord{}
	}
	writeJSON(w, r, http.StatusOK, historyResponse{Queries: records})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// publicMessages replaces internal error text on server-side failures.
var publicMessages = map[rag.Kind]string{
	rag.KindModelUnavailable:  "the embedding model is not available, retry shortly",
	rag.KindEmbedding:         "the embedding model could not process the request",
	rag.KindStoreUnavailable:  "the knowledge base store is not available",
	rag.KindHistoryWrite:      "the answer could not be recorded, retry shortly",
	rag.KindDimensionMismatch: "server misconfiguration",
	rag.KindInternal:          "internal error",
}

// writeKindError maps a classified error onto its status code and JSON body.
// Client errors echo the error text; server errors are logged and replaced
// with a generic message.
func writeKindError(w http.ResponseWriter, r *http.Request, err error) {
	kind := rag.KindOf(err)
	status := kind.HTTPStatus()
	log := logging.FromContext(r.Context())

	msg := err.Error()
	if status >= 500 {
		if pm, ok := publicMessages[kind]; ok {
			msg = pm
		}
		level := slog.LevelWarn
		if !kind.Retryable() {
			level = slog.LevelError
		}
		log.Log(r.Context(), level, "request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	} else {
		var e *rag.Error
		if errors.As(err, &e) && e.Err != nil {
			msg = e.Err.Error()
		}
	}
	writeError(w, status, string(kind), msg, kind.Retryable())
}

// writeError writes the standard JSON error body.
func writeError(w http.ResponseWriter, status int, tag, msg string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: tag, Message: msg, Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
