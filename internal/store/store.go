// Package store implements the knowledge base storage: documents with their
// embeddings and the append-only log of answered questions.
//
// Three backends satisfy rag.VectorStore:
//   - postgres: pgvector similarity search, the production backend
//   - sqlite:   exact brute-force search over float32 blobs, for local use and tests
//   - qdrant:   documents in a Qdrant collection, history in SQLite (see [Split])
//
// Every backend exposes EnsureSchema, which must run once before traffic;
// it is idempotent and safe to call concurrently.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// Backend names accepted by Config.Backend.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
)

// Config selects and configures a storage backend.
type Config struct {
	// Backend is one of postgres, sqlite, qdrant.
	Backend string
	// Dimensions is the embedding length fixed at schema bootstrap.
	Dimensions int
	// Postgres is used when Backend is postgres.
	Postgres PostgresConfig
	// SQLitePath is the database file for the sqlite backend and for the
	// qdrant backend's history. ":memory:" is allowed.
	SQLitePath string
	// Qdrant is used when Backend is qdrant.
	Qdrant QdrantConfig
}

// ConfigFromEnv resolves the store configuration from the environment.
// KBQA_STORE defaults to postgres when DATABASE_URL is set, otherwise sqlite.
func ConfigFromEnv() Config {
	dsn := config.String("DATABASE_URL", "")
	backend := BackendSQLite
	if dsn != "" {
		backend = BackendPostgres
	}
	dims := config.Int("EMBEDDING_DIMENSIONS", rag.DefaultDimensions)

	return Config{
		Backend:    strings.ToLower(config.String("KBQA_STORE", backend)),
		Dimensions: dims,
		Postgres: PostgresConfig{
			DSN:        dsn,
			Dimensions: dims,
			MaxConns:   config.Int("KBQA_DB_MAX_CONNS", 10),
			Index:      config.String("KBQA_VECTOR_INDEX", IndexHNSW),
			IndexLists: config.Int("KBQA_VECTOR_INDEX_LISTS", 100),
		},
		SQLitePath: config.String("KBQA_SQLITE_PATH", ""),
		Qdrant: QdrantConfig{
			Host:       config.String("QDRANT_HOST", "localhost"),
			Port:       config.Int("QDRANT_PORT", 6334),
			Collection: config.String("QDRANT_COLLECTION", "kbqa_documents"),
			VectorSize: uint64(dims),
			APIKey:     config.String("QDRANT_API_KEY", ""),
			UseTLS:     config.Bool("QDRANT_TLS", false),
		},
	}
}

// Open connects to the configured backend. It does not create the schema;
// call EnsureSchema before serving traffic.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (rag.VectorStore, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = rag.DefaultDimensions
	}

	switch cfg.Backend {
	case BackendPostgres:
		pc := cfg.Postgres
		pc.Dimensions = cfg.Dimensions
		return OpenPostgres(ctx, pc, log)

	case BackendSQLite, "":
		path, err := sqlitePath(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path, cfg.Dimensions, log)

	case BackendQdrant:
		qc := cfg.Qdrant
		qc.VectorSize = uint64(cfg.Dimensions)
		docs, err := NewQdrantStore(qc, log)
		if err != nil {
			return nil, err
		}
		path, err := sqlitePath(cfg.SQLitePath)
		if err != nil {
			_ = docs.Close()
			return nil, err
		}
		history, err := OpenSQLite(path, cfg.Dimensions, log)
		if err != nil {
			_ = docs.Close()
			return nil, err
		}
		return NewSplit(docs, history), nil

	default:
		return nil, fmt.Errorf("store: unknown backend %q, valid values: postgres, sqlite, qdrant", cfg.Backend)
	}
}

func sqlitePath(p string) (string, error) {
	if p != "" {
		return p, nil
	}
	return DefaultSQLitePath()
}

// DefaultSQLitePath returns the default path for the SQLite database.
// It resolves to ~/.kbqa/kbqa.db, creating the directory if needed.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".kbqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "kbqa.db"), nil
}
