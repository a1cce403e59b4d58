package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/kbqa-go/internal/rag"
)

// SQLiteStore is a rag.VectorStore backed by a local SQLite database.
// Similarity search is exact: every stored embedding is scored against the
// query, which is fine for corpora of a few tens of thousands of documents.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// dims is the embedding length pinned in kbqa_meta.
	dims int
	log  *slog.Logger

	// schemaMu serialises EnsureSchema within the process.
	schemaMu sync.Mutex
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for an
// in-memory database in tests.
func OpenSQLite(path string, dims int, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under
	// concurrent writes. For ":memory:" this also keeps one shared database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	return &SQLiteStore{db: db, dims: dims, log: log.With(slog.String("store", "sqlite"))}, nil
}

// EnsureSchema creates the tables and indexes if they do not already exist
// and pins the embedding dimensionality on first run.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	const op = "store.sqlite.schema"

	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	const ddl = `
CREATE TABLE IF NOT EXISTS kbqa_meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    doc_key     TEXT    NOT NULL UNIQUE,
    title       TEXT,
    content     TEXT    NOT NULL,
    embedding   BLOB    NOT NULL,
    source_url  TEXT,
    created_at  INTEGER NOT NULL,  -- Unix nanoseconds
    updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS user_queries (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id   TEXT    NOT NULL,
    question  TEXT    NOT NULL,
    answer    TEXT    NOT NULL,
    asked_at  INTEGER NOT NULL     -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_user_queries_user_id ON user_queries (user_id);
CREATE INDEX IF NOT EXISTS idx_user_queries_asked_at ON user_queries (asked_at DESC);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, op, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kbqa_meta (key, value) VALUES ('embedding_dimensions', ?) ON CONFLICT(key) DO NOTHING`,
		strconv.Itoa(s.dims)); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, op, err)
	}

	var stored string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kbqa_meta WHERE key = 'embedding_dimensions'`).Scan(&stored); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	if stored != strconv.Itoa(s.dims) {
		return rag.Errorf(rag.KindDimensionMismatch, op, "database was created with %s-dimensional embeddings, configured %d", stored, s.dims)
	}

	s.log.Debug("store: schema ready", slog.Int("dimensions", s.dims))
	return nil
}

// UpsertDocument inserts doc or replaces the document with the same key.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc rag.Document) (string, error) {
	const op = "store.sqlite.upsert"

	if err := rag.CheckDimensions(op, doc.Embedding, s.dims); err != nil {
		return "", err
	}

	const q = `
INSERT INTO documents (doc_key, title, content, embedding, source_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(doc_key) DO UPDATE SET
    title      = excluded.title,
    content    = excluded.content,
    embedding  = excluded.embedding,
    source_url = excluded.source_url,
    updated_at = excluded.updated_at
RETURNING id`

	now := time.Now().UTC().UnixNano()
	var id int64
	err := s.db.QueryRowContext(ctx, q,
		doc.Key, nullString(doc.Title), doc.Content, rag.EncodeVector(doc.Embedding),
		nullString(doc.Source), now, now,
	).Scan(&id)
	if err != nil {
		return "", rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// TopKSimilar scores every stored embedding and returns the k best.
func (s *SQLiteStore) TopKSimilar(ctx context.Context, embedding []float32, k int) ([]rag.Match, error) {
	const op = "store.sqlite.topk"

	if err := rag.CheckDimensions(op, embedding, s.dims); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []rag.Match{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc_key, title, content, embedding, source_url, created_at, updated_at FROM documents`)
	if err != nil {
		return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	defer rows.Close()

	best := newTopK(k)
	for rows.Next() {
		var (
			id                   int64
			doc                  rag.Document
			title, source        sql.NullString
			blob                 []byte
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &doc.Key, &title, &doc.Content, &blob, &source, &createdAt, &updatedAt); err != nil {
			return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
		}
		vec, err := rag.DecodeVector(blob)
		if err != nil {
			return nil, rag.E(rag.KindStoreUnavailable, op, fmt.Errorf("document %d: %w", id, err))
		}
		if len(vec) != s.dims {
			return nil, rag.Errorf(rag.KindDimensionMismatch, op, "document %d has %d dimensions, store expects %d", id, len(vec), s.dims)
		}

		doc.ID = strconv.FormatInt(id, 10)
		doc.Title = title.String
		doc.Source = source.String
		doc.CreatedAt = time.Unix(0, createdAt).UTC()
		doc.UpdatedAt = time.Unix(0, updatedAt).UTC()

		best.offer(ranked{id: id, match: rag.Match{Document: doc, Score: rag.Dot(embedding, vec)}})
	}
	if err := rows.Err(); err != nil {
		return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
	}

	return best.results(), nil
}

// CountDocuments returns the number of stored documents.
func (s *SQLiteStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, rag.Classify(rag.KindStoreUnavailable, "store.sqlite.count", err)
	}
	return n, nil
}

// ClearDocuments deletes every document. History is untouched.
func (s *SQLiteStore) ClearDocuments(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, "store.sqlite.clear", err)
	}
	return nil
}

// DeleteDocument removes the document with the given key, if present.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_key = ?`, key); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, "store.sqlite.delete", err)
	}
	return nil
}

// AppendQueryRecord persists one interaction.
func (s *SQLiteStore) AppendQueryRecord(ctx context.Context, userID, question, answer string) (string, error) {
	const q = `INSERT INTO user_queries (user_id, question, answer, asked_at) VALUES (?, ?, ?, ?) RETURNING id`
	var id int64
	if err := s.db.QueryRowContext(ctx, q, userID, question, answer, time.Now().UTC().UnixNano()).Scan(&id); err != nil {
		return "", rag.Classify(rag.KindStoreUnavailable, "store.sqlite.append", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// GetHistory returns the user's most recent records first.
func (s *SQLiteStore) GetHistory(ctx context.Context, userID string, limit int) ([]rag.QueryRecord, error) {
	const op = "store.sqlite.history"

	if limit <= 0 {
		return []rag.QueryRecord{}, nil
	}

	const q = `
SELECT id, user_id, question, answer, asked_at
FROM   user_queries
WHERE  user_id = ?
ORDER  BY asked_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	defer rows.Close()

	records := []rag.QueryRecord{}
	for rows.Next() {
		var (
			r  rag.QueryRecord
			id int64
			ts int64
		)
		if err := rows.Scan(&id, &r.UserID, &r.Question, &r.Answer, &ts); err != nil {
			return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
		}
		r.ID = strconv.FormatInt(id, 10)
		r.AskedAt = time.Unix(0, ts).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	return records, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, "store.sqlite.ping", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
