package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// pointNamespace derives stable Qdrant point ids from document keys.
var pointNamespace = uuid.MustParse("4f1c2a7e-9b0d-5e3a-8c6f-2d7b1e0a9c43")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements rag.DocumentStore on a Qdrant collection using
// cosine distance. It holds no history; pair it with a history store via
// [Split].
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg QdrantConfig

	log *slog.Logger

	// schemaMu serialises collection creation.
	schemaMu sync.Mutex
}

// NewQdrantStore creates the client. The collection is created by EnsureSchema.
func NewQdrantStore(cfg QdrantConfig, log *slog.Logger) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "kbqa_documents"
	}
	if cfg.VectorSize == 0 {
		cfg.VectorSize = rag.DefaultDimensions
	}
	if log == nil {
		log = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	return &QdrantStore{client: client, cfg: cfg, log: log.With(slog.String("store", "qdrant"))}, nil
}

// EnsureSchema creates the collection if it does not already exist, checks
// its vector size, and adds a keyword payload index on doc_key. The payload
// index is optional: failure is logged and ignored.
func (s *QdrantStore) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	return s.ensureCollection(ctx)
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	const op = "store.qdrant.schema"

	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return rag.Classify(rag.KindStoreUnavailable, op, err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			// Another process may have created it between the check and now.
			if ok, cerr := s.client.CollectionExists(ctx, s.cfg.Collection); cerr != nil || !ok {
				return rag.E(rag.KindStoreUnavailable, op, fmt.Errorf("create collection %q: %w", s.cfg.Collection, err))
			}
		}
	}

	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	if size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size != 0 && size != s.cfg.VectorSize {
		return rag.Errorf(rag.KindDimensionMismatch, op, "collection %q has %d-dimensional vectors, configured %d", s.cfg.Collection, size, s.cfg.VectorSize)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      "doc_key",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		s.log.Warn("store: could not create doc_key payload index, continuing without it", slog.Any("error", err))
	}
	return nil
}

// pointID maps a document key to its Qdrant point id.
func pointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// UpsertDocument stores doc under the point id derived from its key.
func (s *QdrantStore) UpsertDocument(ctx context.Context, doc rag.Document) (string, error) {
	const op = "store.qdrant.upsert"

	if err := rag.CheckDimensions(op, doc.Embedding, int(s.cfg.VectorSize)); err != nil {
		return "", err
	}

	id := pointID(doc.Key)
	now := time.Now().UTC().UnixNano()
	payload := map[string]any{
		"doc_key":    doc.Key,
		"title":      doc.Title,
		"content":    doc.Content,
		"source_url": doc.Source,
		"updated_at": now,
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return "", rag.Classify(rag.KindStoreUnavailable, op, err)
	}
	return id, nil
}

// TopKSimilar performs a cosine similarity query and returns the top-k results.
func (s *QdrantStore) TopKSimilar(ctx context.Context, embedding []float32, k int) ([]rag.Match, error) {
	const op = "store.qdrant.topk"

	if err := rag.CheckDimensions(op, embedding, int(s.cfg.VectorSize)); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []rag.Match{}, nil
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, rag.Classify(rag.KindStoreUnavailable, op, err)
	}

	matches := make([]rag.Match, 0, len(results))
	for _, r := range results {
		m := rag.Match{Score: r.GetScore()}
		m.Document.ID = r.GetId().GetUuid()
		if p := r.GetPayload(); p != nil {
			m.Document.Key = p["doc_key"].GetStringValue()
			m.Document.Title = p["title"].GetStringValue()
			m.Document.Content = p["content"].GetStringValue()
			m.Document.Source = p["source_url"].GetStringValue()
			if ts := p["updated_at"].GetIntegerValue(); ts != 0 {
				m.Document.UpdatedAt = time.Unix(0, ts).UTC()
			}
		}
		matches = append(matches, m)
	}

	return rankMatches(matches), nil
}

// CountDocuments returns the exact number of points in the collection.
func (s *QdrantStore) CountDocuments(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, rag.Classify(rag.KindStoreUnavailable, "store.qdrant.count", err)
	}
	return int(n), nil
}

// ClearDocuments deletes every point and keeps the collection, so concurrent
// searches see an empty corpus instead of a missing collection.
func (s *QdrantStore) ClearDocuments(ctx context.Context) error {
	if _, err := s.client.Delete(ctx, clearAllPoints(s.cfg.Collection)); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, "store.qdrant.clear", err)
	}
	return nil
}

// clearAllPoints selects every point of collection; an empty filter
// matches all points.
func clearAllPoints(collection string) *qdrant.DeletePoints {
	return &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
	}
}

// DeleteDocument removes the point derived from key.
func (s *QdrantStore) DeleteDocument(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(key))),
	})
	if err != nil {
		return rag.Classify(rag.KindStoreUnavailable, "store.qdrant.delete", err)
	}
	return nil
}

// Ping calls the Qdrant health check endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return rag.Classify(rag.KindStoreUnavailable, "store.qdrant.ping", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
