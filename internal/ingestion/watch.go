package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/kbqa-go/internal/rag"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before ingesting.
const DefaultDebounce = 500 * time.Millisecond

type changeType int

const (
	changeUpsert changeType = iota + 1
	changeDelete
)

type change struct {
	kind changeType
	path string
}

// Watcher keeps the knowledge base in sync with a directory: created or
// modified files are re-ingested incrementally and removed files are
// deleted by key.
type Watcher struct {
	dir      Directory
	pipeline *Pipeline
	store    rag.DocumentStore
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher returns a Watcher for dir. The pipeline must use the
// incremental policy; a replace pipeline would wipe the corpus on every save.
func NewWatcher(dir Directory, p *Pipeline, store rag.DocumentStore, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if p == nil || store == nil {
		return nil, fmt.Errorf("ingestion: watcher requires a pipeline and a store")
	}
	if p.Policy() != PolicyIncremental {
		return nil, fmt.Errorf("ingestion: watch mode requires the incremental policy, got %q", p.Policy())
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{dir: dir, pipeline: p, store: store, debounce: debounce, log: log}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingestion: create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addDirs(fw, w.dir.Path); err != nil {
		return err
	}
	w.log.Info("ingestion: watching for changes",
		slog.String("path", w.dir.Path),
		slog.Bool("recursive", w.dir.Recursive),
	)

	pending := make(map[string]changeType)
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.dir.Recursive && ev.Has(fsnotify.Create) && !isHidden(ev.Name) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addDirs(fw, ev.Name); err != nil {
						w.log.Warn("ingestion: watch new directory failed", slog.String("path", ev.Name), slog.Any("error", err))
					}
					continue
				}
			}
			if c, ok := w.classify(ev); ok {
				pending[c.path] = c.kind
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("ingestion: watcher error", slog.Any("error", err))

		case <-timer.C:
			w.flush(ctx, pending)
			pending = make(map[string]changeType)
		}
	}
}

// addDirs registers root and, for recursive watches, every non-hidden
// directory beneath it.
func (w *Watcher) addDirs(fw *fsnotify.Watcher, root string) error {
	if !w.dir.Recursive {
		if err := fw.Add(root); err != nil {
			return fmt.Errorf("ingestion: watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(e.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("ingestion: watch %s: %w", path, err)
		}
		return nil
	})
}

// classify maps a file event onto a knowledge base change. Directories,
// hidden files, unsupported extensions and chmod-only events are ignored.
func (w *Watcher) classify(ev fsnotify.Event) (change, bool) {
	if isHidden(ev.Name) || !Supported(ev.Name) {
		return change{}, false
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return change{kind: changeDelete, path: ev.Name}, true
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
			return change{}, false
		}
		return change{kind: changeUpsert, path: ev.Name}, true
	default:
		return change{}, false
	}
}

// flush applies a settled batch of changes.
func (w *Watcher) flush(ctx context.Context, pending map[string]changeType) {
	var inputs []Input
	for path, kind := range pending {
		switch kind {
		case changeUpsert:
			inputs = append(inputs, ReadFile(path))
		case changeDelete:
			key := filepath.ToSlash(filepath.Clean(path))
			if err := w.store.DeleteDocument(ctx, key); err != nil {
				w.log.Warn("ingestion: delete failed", slog.String("key", key), slog.Any("error", err))
				continue
			}
			w.log.Info("ingestion: document removed", slog.String("key", key))
		}
	}
	if len(inputs) == 0 {
		return
	}
	res, err := w.pipeline.Ingest(ctx, inputs)
	if err != nil {
		w.log.Warn("ingestion: re-ingest failed", slog.Any("error", err))
		return
	}
	w.log.Info("ingestion: re-ingested changes",
		slog.Int("ingested", res.Ingested),
		slog.Int("failed", len(res.Failures)),
	)
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
