// Package rag defines the domain types and component interfaces of the
// question-answering pipeline: documents, query records, similarity matches,
// the embedder and the vector store. Concrete implementations (postgres,
// SQLite, Qdrant, HTTP embedding backends) satisfy these interfaces so the
// retrieval and ingestion layers never depend on a specific backend.
package rag

import (
	"context"
	"time"
)

// DefaultDimensions is the embedding dimensionality used when none is configured.
const DefaultDimensions = 384

// Document is a unit of stored knowledge.
type Document struct {
	// ID is the store-assigned identifier. Opaque to callers.
	ID string

	// Key is the logical identity used for idempotent upserts: the source
	// path for file documents, otherwise a content hash.
	Key string

	// Title is optional. An empty title renders as "Untitled".
	Title string

	// Content is the document text. Never empty for stored documents.
	Content string

	// Source is the origin URL or file path, if known.
	Source string

	// Embedding is the unit-norm vector for Content.
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match is a document returned by a similarity search.
type Match struct {
	Document Document

	// Score is 1 - cosine distance; higher is more similar.
	Score float32

	// Rank is the 1-based position in the result list.
	Rank int
}

// QueryRecord is one persisted question/answer interaction.
type QueryRecord struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Embedder converts text into a fixed-length, unit-norm vector.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed returns the embedding for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the length of every vector Embed produces.
	Dimensions() int
}

// DocumentStore persists documents and answers similarity queries.
// Implementations must be safe to call from multiple goroutines.
type DocumentStore interface {
	// EnsureSchema creates the storage layout if missing. Idempotent.
	EnsureSchema(ctx context.Context) error

	// UpsertDocument inserts doc or updates the document with the same Key.
	UpsertDocument(ctx context.Context, doc Document) (string, error)

	// TopKSimilar returns at most k documents ordered by descending
	// similarity, ties broken by lower id. An empty corpus yields an
	// empty slice, not an error.
	TopKSimilar(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int, error)

	// ClearDocuments removes every document.
	ClearDocuments(ctx context.Context) error

	// DeleteDocument removes the document with the given key, if present.
	DeleteDocument(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// HistoryStore is the append-only log of query records.
type HistoryStore interface {
	// AppendQueryRecord persists one interaction and returns its id.
	AppendQueryRecord(ctx context.Context, userID, question, answer string) (string, error)

	// GetHistory returns the user's most recent records first, at most limit.
	GetHistory(ctx context.Context, userID string, limit int) ([]QueryRecord, error)
}

// VectorStore is the complete storage surface used by the service.
type VectorStore interface {
	DocumentStore
	HistoryStore

	// Close releases any resources held by the store.
	Close() error
}
