package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// Default limits applied when HandleConfig leaves them zero.
const (
	DefaultLoadTimeout   = 2 * time.Minute
	DefaultCallTimeout   = 30 * time.Second
	DefaultMaxInputChars = 32 << 10
)

// Backend is a loaded embedding model. EmbedBatch returns raw vectors
// parallel to texts; the Handle validates and normalises them.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader constructs a ready Backend. It is called at most once per
// successful load; a failed load is retried by the next caller.
type Loader func(ctx context.Context) (Backend, error)

// HandleConfig configures a Handle.
type HandleConfig struct {
	// Name identifies the model in logs and errors (e.g. "ollama/all-minilm").
	Name string
	// Dimensions is the required output length.
	Dimensions int
	// LoadTimeout bounds a single load attempt.
	LoadTimeout time.Duration
	// CallTimeout bounds a single Embed call.
	CallTimeout time.Duration
	// MaxInputChars rejects longer inputs with an EmbeddingError.
	MaxInputChars int
	// Logger receives load events. Optional.
	Logger *slog.Logger
}

// Handle is the lazily-initialised, shared embedding model. It implements
// rag.Embedder and is safe for concurrent use. Create one per process and
// pass it to every component that embeds text.
type Handle struct {
	cfg  HandleConfig
	load Loader
	log  *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	ready Backend

	loads atomic.Int64
}

// NewHandle returns a Handle that will call load on first use.
func NewHandle(cfg HandleConfig, load Loader) *Handle {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = rag.DefaultDimensions
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handle{cfg: cfg, load: load, log: log.With(slog.String("model", cfg.Name))}
}

// Dimensions returns the length of every vector Embed produces.
func (h *Handle) Dimensions() int { return h.cfg.Dimensions }

// Name returns the configured model name.
func (h *Handle) Name() string { return h.cfg.Name }

// Loads returns the number of load attempts made so far.
func (h *Handle) Loads() int64 { return h.loads.Load() }

// Loaded reports whether the backend is ready without triggering a load.
func (h *Handle) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready != nil
}

// Load initialises the backend if it is not ready yet. Concurrent callers
// share one in-flight attempt. The attempt runs detached from ctx, bounded
// by LoadTimeout, so one caller giving up does not fail the others; a caller
// whose ctx ends first receives ModelUnavailable.
func (h *Handle) Load(ctx context.Context) error {
	_, err := h.backend(ctx)
	return err
}

// Ping satisfies the readiness probe: the model must be loadable.
func (h *Handle) Ping(ctx context.Context) error {
	return h.Load(ctx)
}

func (h *Handle) backend(ctx context.Context) (Backend, error) {
	h.mu.RLock()
	b := h.ready
	h.mu.RUnlock()
	if b != nil {
		return b, nil
	}

	ch := h.group.DoChan("load", func() (any, error) {
		h.mu.RLock()
		b := h.ready
		h.mu.RUnlock()
		if b != nil {
			return b, nil
		}

		n := h.loads.Add(1)
		start := time.Now()
		h.log.Info("embedder: loading model", slog.Int64("attempt", n))

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.LoadTimeout)
		defer cancel()

		b, err := h.load(lctx)
		if err != nil {
			h.log.Warn("embedder: model load failed", slog.Int64("attempt", n), slog.Any("error", err))
			if rag.IsKind(err, rag.KindDimensionMismatch) {
				return nil, err
			}
			return nil, rag.E(rag.KindModelUnavailable, "embedder.load", fmt.Errorf("%s: %w", h.cfg.Name, err))
		}

		h.mu.Lock()
		h.ready = b
		h.mu.Unlock()
		h.log.Info("embedder: model ready", slog.Duration("took", time.Since(start)))
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Backend), nil
	case <-ctx.Done():
		return nil, rag.E(rag.KindModelUnavailable, "embedder.load", fmt.Errorf("waiting for model: %w", ctx.Err()))
	}
}

// Embed returns the unit-norm embedding of text.
func (h *Handle) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedder.embed"

	if strings.TrimSpace(text) == "" {
		return nil, rag.Errorf(rag.KindEmbedding, op, "input is empty")
	}
	if !utf8.ValidString(text) {
		return nil, rag.Errorf(rag.KindEmbedding, op, "input is not valid UTF-8")
	}
	if len(text) > h.cfg.MaxInputChars {
		return nil, rag.Errorf(rag.KindEmbedding, op, "input is %d bytes, limit is %d", len(text), h.cfg.MaxInputChars)
	}

	b, err := h.backend(ctx)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()

	vecs, err := b.EmbedBatch(cctx, []string{text})
	if err != nil {
		return nil, rag.Classify(rag.KindModelUnavailable, op, err)
	}
	if len(vecs) != 1 {
		return nil, rag.Errorf(rag.KindEmbedding, op, "backend returned %d vectors for 1 input", len(vecs))
	}
	return h.finish(op, vecs[0])
}

// finish checks dimensionality and normalises v.
func (h *Handle) finish(op string, v []float32) ([]float32, error) {
	if len(v) != h.cfg.Dimensions {
		h.log.Error("embedder: model output does not match configured dimensions",
			slog.Int("got", len(v)), slog.Int("want", h.cfg.Dimensions))
		return nil, rag.Errorf(rag.KindDimensionMismatch, op, "model returned %d dimensions, configured %d", len(v), h.cfg.Dimensions)
	}
	out := make([]float32, len(v))
	copy(out, v)
	if _, err := rag.Normalize(out); err != nil {
		return nil, rag.E(rag.KindEmbedding, op, err)
	}
	return out, nil
}

// ProbeLoader wraps construct with a warm-up embed so that an unreachable
// model or a wrong dimensionality is reported at load time rather than on
// the first real request.
func ProbeLoader(dims int, construct func() Backend) Loader {
	return func(ctx context.Context) (Backend, error) {
		b := construct()
		vecs, err := b.EmbedBatch(ctx, []string{"warm-up"})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) != dims {
			got := 0
			if len(vecs) == 1 {
				got = len(vecs[0])
			}
			return nil, rag.Errorf(rag.KindDimensionMismatch, "embedder.load", "model returned %d dimensions, configured %d", got, dims)
		}
		return b, nil
	}
}
