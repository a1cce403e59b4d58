// Package ingestion loads documents into the knowledge base.
// Sources (inline lists, directories of text/markdown/PDF files, web pages,
// the built-in sample corpus) produce Inputs; the Pipeline embeds each one
// and upserts it into the vector store with bounded concurrency. A bad
// document is reported in the Result and never aborts the batch.
// This pipeline is invoked by the `kbqa ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/rag"
)

// Policy decides what happens to documents already in the store.
type Policy string

const (
	// PolicyReplace clears the corpus, then inserts the batch.
	PolicyReplace Policy = "replace"
	// PolicyIncremental upserts by document key and keeps everything else.
	PolicyIncremental Policy = "incremental"
)

// ParsePolicy validates a policy name. Empty means replace.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReplace:
		return PolicyReplace, nil
	case PolicyIncremental:
		return PolicyIncremental, nil
	default:
		return "", fmt.Errorf("ingestion: unknown policy %q, valid values: replace, incremental", s)
	}
}

// Input is one document to ingest.
type Input struct {
	// Title is optional.
	Title string
	// Content must contain non-whitespace text.
	Content string
	// Source is the file path or URL the content came from, if any.
	Source string
	// Err is set by a source that could not read this document.
	Err error
}

// Failure describes one document that was not ingested.
type Failure struct {
	// Index is the position of the document in the batch.
	Index  int
	Title  string
	Source string
	Kind   rag.Kind
	Err    error
}

// Result summarises a batch.
type Result struct {
	// Total is the number of documents offered.
	Total int
	// Ingested is the number of documents embedded and stored.
	Ingested int
	// Skipped counts duplicates of a key seen earlier in the same batch.
	Skipped int
	// Cleared reports whether the replace policy emptied the store.
	Cleared bool
	// Failures lists rejected documents in batch order.
	Failures []Failure
	// Duration is the wall time of the batch.
	Duration time.Duration
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Workers bounds concurrent embed+upsert operations. Defaults to 4.
	Workers int
	// Policy defaults to PolicyReplace.
	Policy Policy
	// Logger receives per-document events. Optional.
	Logger *slog.Logger
	// Progress is called after each document. Calls are serialised, so the
	// func may write to a plain io.Writer. Optional.
	Progress func(msg string)
}

// ConfigFromEnv reads KBQA_INGEST_WORKERS and KBQA_INGEST_POLICY.
func ConfigFromEnv() (Config, error) {
	policy, err := ParsePolicy(config.String("KBQA_INGEST_POLICY", string(PolicyReplace)))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Workers: config.Int("KBQA_INGEST_WORKERS", 4),
		Policy:  policy,
	}, nil
}

// Pipeline orchestrates the embed → upsert flow for a batch of documents.
type Pipeline struct {
	// embedder converts document content into vectors.
	embedder rag.Embedder

	// store persists the embedded documents.
	store rag.DocumentStore

	// cfg holds the resolved pipeline configuration.
	cfg Config

	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.DocumentStore, cfg Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReplace
	}
	if cfg.Progress == nil {
		cfg.Progress = func(string) {}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{embedder: embedder, store: store, cfg: cfg, log: log}, nil
}

// Policy returns the configured policy.
func (p *Pipeline) Policy() Policy { return p.cfg.Policy }

// Ingest embeds and stores docs. Per-document problems (empty content,
// unreadable source, embedding or store failure) are collected in the
// Result; the returned error is reserved for batch-level failures: the
// replace policy could not clear the store, or ctx ended.
//
// Under the replace policy the store is cleared just before the first
// successful write, so a batch whose every document fails leaves the
// existing corpus in place.
func (p *Pipeline) Ingest(ctx context.Context, docs []Input) (*Result, error) {
	start := time.Now()
	res := &Result{Total: len(docs)}

	var mu sync.Mutex
	fail := func(i int, in Input, err error) {
		mu.Lock()
		defer mu.Unlock()
		res.Failures = append(res.Failures, Failure{
			Index: i, Title: in.Title, Source: in.Source, Kind: rag.KindOf(err), Err: err,
		})
		p.log.Warn("ingestion: document rejected",
			slog.Int("index", i),
			slog.String("title", in.Title),
			slog.String("source", in.Source),
			slog.Any("error", err),
		)
		p.cfg.Progress(fmt.Sprintf("✗ %s: %v", label(i, in), err))
	}

	type job struct {
		index int
		in    Input
		key   string
	}
	jobs := make([]job, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for i, in := range docs {
		switch {
		case in.Err != nil:
			fail(i, in, rag.Classify(rag.KindInvalidDocument, "ingestion.read", in.Err))
			continue
		case strings.TrimSpace(in.Content) == "":
			fail(i, in, rag.Errorf(rag.KindInvalidDocument, "ingestion.validate", "content is empty"))
			continue
		}
		key := DocumentKey(in)
		if seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true
		jobs = append(jobs, job{index: i, in: in, key: key})
	}

	var (
		clearOnce sync.Once
		clearErr  error
	)
	prepare := func(ctx context.Context) error {
		if p.cfg.Policy != PolicyReplace {
			return nil
		}
		clearOnce.Do(func() {
			if clearErr = p.store.ClearDocuments(ctx); clearErr == nil {
				mu.Lock()
				res.Cleared = true
				mu.Unlock()
				p.log.Info("ingestion: cleared existing documents")
			}
		})
		return clearErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			emb, err := p.embedder.Embed(gctx, j.in.Content)
			if err != nil {
				fail(j.index, j.in, err)
				return nil
			}
			if err := prepare(gctx); err != nil {
				return fmt.Errorf("ingestion: clear existing documents: %w", err)
			}
			id, err := p.store.UpsertDocument(gctx, rag.Document{
				Key:       j.key,
				Title:     strings.TrimSpace(j.in.Title),
				Content:   strings.TrimSpace(j.in.Content),
				Source:    j.in.Source,
				Embedding: emb,
			})
			if err != nil {
				fail(j.index, j.in, err)
				return nil
			}

			p.log.Debug("ingestion: document stored", slog.String("id", id), slog.String("key", j.key))
			mu.Lock()
			defer mu.Unlock()
			res.Ingested++
			p.cfg.Progress(fmt.Sprintf("✓ %s", label(j.index, j.in)))
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(res.Failures, func(a, b int) bool { return res.Failures[a].Index < res.Failures[b].Index })
	res.Duration = time.Since(start)

	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("ingestion: %w", err)
	}

	p.log.Info("ingestion: batch complete",
		slog.Int("total", res.Total),
		slog.Int("ingested", res.Ingested),
		slog.Int("failed", len(res.Failures)),
		slog.Int("skipped", res.Skipped),
		slog.Duration("took", res.Duration),
	)
	return res, nil
}

// label names a document for progress output.
func label(i int, in Input) string {
	switch {
	case in.Title != "":
		return in.Title
	case in.Source != "":
		return in.Source
	default:
		return fmt.Sprintf("document %d", i+1)
	}
}
