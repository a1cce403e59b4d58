package store

import (
	"context"
	"errors"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// DocumentBackend is a document store that owns closable resources.
type DocumentBackend interface {
	rag.DocumentStore
	Close() error
}

// HistoryBackend is a history store that owns closable resources and a schema.
type HistoryBackend interface {
	rag.HistoryStore
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Split is a rag.VectorStore that keeps documents and history in different
// backends, e.g. Qdrant for vectors and SQLite for the query log.
type Split struct {
	docs    DocumentBackend
	history HistoryBackend
}

// NewSplit combines docs and history into one VectorStore.
func NewSplit(docs DocumentBackend, history HistoryBackend) *Split {
	return &Split{docs: docs, history: history}
}

// EnsureSchema bootstraps both backends.
func (s *Split) EnsureSchema(ctx context.Context) error {
	if err := s.docs.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.history.EnsureSchema(ctx)
}

func (s *Split) UpsertDocument(ctx context.Context, doc rag.Document) (string, error) {
	return s.docs.UpsertDocument(ctx, doc)
}

func (s *Split) TopKSimilar(ctx context.Context, embedding []float32, k int) ([]rag.Match, error) {
	return s.docs.TopKSimilar(ctx, embedding, k)
}

func (s *Split) CountDocuments(ctx context.Context) (int, error) {
	return s.docs.CountDocuments(ctx)
}

func (s *Split) ClearDocuments(ctx context.Context) error {
	return s.docs.ClearDocuments(ctx)
}

func (s *Split) DeleteDocument(ctx context.Context, key string) error {
	return s.docs.DeleteDocument(ctx, key)
}

func (s *Split) AppendQueryRecord(ctx context.Context, userID, question, answer string) (string, error) {
	return s.history.AppendQueryRecord(ctx, userID, question, answer)
}

func (s *Split) GetHistory(ctx context.Context, userID string, limit int) ([]rag.QueryRecord, error) {
	return s.history.GetHistory(ctx, userID, limit)
}

// Ping succeeds only when both backends are reachable.
func (s *Split) Ping(ctx context.Context) error {
	return errors.Join(s.docs.Ping(ctx), s.history.Ping(ctx))
}

// Close closes both backends.
func (s *Split) Close() error {
	return errors.Join(s.docs.Close(), s.history.Close())
}
