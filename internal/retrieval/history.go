package retrieval

import (
	"context"
	"strings"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// DefaultHistoryLimit caps the records returned by History.Get.
const DefaultHistoryLimit = 50

// History reads a user's past questions, most recent first.
type History struct {
	store rag.HistoryStore
	limit int
}

// NewHistory returns a reader capped at limit records (DefaultHistoryLimit
// when limit <= 0).
func NewHistory(store rag.HistoryStore, limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{store: store, limit: limit}
}

// HistoryLimitFromEnv reads KBQA_HISTORY_LIMIT.
func HistoryLimitFromEnv() int {
	return config.Int("KBQA_HISTORY_LIMIT", DefaultHistoryLimit)
}

// Limit returns the configured cap.
func (h *History) Limit() int { return h.limit }

// Get returns up to Limit records for userID. Store errors are returned as is.
func (h *History) Get(ctx context.Context, userID string) ([]rag.QueryRecord, error) {
	return h.GetN(ctx, userID, h.limit)
}

// GetN is Get with a caller-chosen limit, clamped to (0, Limit].
func (h *History) GetN(ctx context.Context, userID string, n int) ([]rag.QueryRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, rag.Errorf(rag.KindInvalidInput, "history.get", "user id must not be empty")
	}
	if n <= 0 || n > h.limit {
		n = h.limit
	}
	return h.store.GetHistory(ctx, userID, n)
}
