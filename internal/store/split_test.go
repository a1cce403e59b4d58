package store

import (
	"context"
	"errors"
	"testing"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// pingFailDocs wraps a SQLiteStore and makes Ping fail.
type pingFailDocs struct {
	*SQLiteStore
}

func (pingFailDocs) Ping(context.Context) error { return errors.New("qdrant down") }

func Test_Split_RoutesToBackends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	docs := openTestStore(t)
	history, err := OpenSQLite(":memory:", 3, logging.Discard())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = history.Close() })

	s := NewSplit(docs, history)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	upsert(t, s, "k", "T", "content", unit(t, 1, 0, 0))
	if _, err := s.AppendQueryRecord(ctx, "u", "q", "a"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if n, _ := docs.CountDocuments(ctx); n != 1 {
		t.Errorf("documents backend count = %d, want 1", n)
	}
	if n, _ := history.CountDocuments(ctx); n != 0 {
		t.Errorf("history backend should hold no documents, got %d", n)
	}
	if h, _ := docs.GetHistory(ctx, "u", 10); len(h) != 0 {
		t.Errorf("documents backend should hold no history, got %d", len(h))
	}
	if h, _ := s.GetHistory(ctx, "u", 10); len(h) != 1 {
		t.Errorf("split history = %d records, want 1", len(h))
	}
}

func Test_Split_PingJoinsErrors(t *testing.T) {
	t.Parallel()

	history := openTestStore(t)
	s := NewSplit(pingFailDocs{openTestStore(t)}, history)
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping should fail when the document backend is down")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Backend: "mongo"}, logging.Discard())
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{Backend: BackendSQLite, SQLitePath: ":memory:", Dimensions: 3}, logging.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	var _ rag.VectorStore = s
}

func TestPointID_Stable(t *testing.T) {
	t.Parallel()

	if pointID("docs/a.txt") != pointID("docs/a.txt") {
		t.Error("pointID must be deterministic")
	}
	if pointID("a") == pointID("b") {
		t.Error("different keys must map to different ids")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("KBQA_STORE", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/kb")
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("KBQA_VECTOR_INDEX", "")
	t.Setenv("KBQA_VECTOR_INDEX_LISTS", "")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendPostgres {
		t.Errorf("DATABASE_URL set: backend = %q, want postgres", cfg.Backend)
	}
	if cfg.Postgres.Index != IndexHNSW || cfg.Postgres.IndexLists != 100 {
		t.Errorf("unexpected index defaults: %+v", cfg.Postgres)
	}
	if cfg.Dimensions != rag.DefaultDimensions {
		t.Errorf("dimensions = %d, want %d", cfg.Dimensions, rag.DefaultDimensions)
	}
}
