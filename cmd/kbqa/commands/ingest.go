package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/config"
	"github.com/54b3r/kbqa-go/internal/ingestion"
	"github.com/54b3r/kbqa-go/internal/logging"
)

// NewIngestCmd constructs the `kbqa ingest` command, which embeds documents
// into the knowledge base.
func NewIngestCmd() *cobra.Command {
	var (
		files     string
		recursive bool
		watch     bool
		sample    bool
		urls      []string
		policy    string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge base",
		Long: `Embed documents and store them in the knowledge base.

Sources (combinable):
  --files DIR   every .txt, .md, .markdown and .pdf file in DIR
  --url URL     a web page, fetched and reduced to text (repeatable)
  --sample      a small built-in machine learning corpus

The replace policy (default) empties the store before the first document is
written, so the knowledge base mirrors this batch. The incremental policy
updates documents by key (file path, URL or title) and keeps everything else.
--watch keeps running and re-ingests files in DIR as they change; it implies
the incremental policy.

A document that cannot be read or embedded is reported and skipped; the rest
of the batch still goes in.

Examples:
  kbqa ingest --sample
  kbqa ingest --files ./docs --recursive
  kbqa ingest --files ./docs --watch
  kbqa ingest --policy incremental --url https://example.com/faq`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			if files == "" && len(urls) == 0 && !sample {
				return errors.New("ingest: one of --files, --url or --sample is required")
			}
			if watch && files == "" {
				return errors.New("ingest: --watch requires --files")
			}

			cfg, err := ingestion.ConfigFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			switch {
			case cmd.Flags().Changed("policy"):
				if cfg.Policy, err = ingestion.ParsePolicy(policy); err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
			case watch:
				cfg.Policy = ingestion.PolicyIncremental
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			cfg.Logger = logging.Component(log, "ingestion")
			cfg.Progress = func(msg string) { fmt.Fprintln(out, msg) }

			var sources []ingestion.Source
			dir := ingestion.Directory{Path: files, Recursive: recursive}
			if files != "" {
				sources = append(sources, dir)
			}
			if len(urls) > 0 {
				sources = append(sources, ingestion.URLs{URLs: urls})
			}
			if sample {
				sources = append(sources, ingestion.Sample{})
			}

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer b.Close()

			pipeline, err := ingestion.NewPipeline(b.emb, b.store, cfg)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			var inputs []ingestion.Input
			for _, src := range sources {
				docs, err := src.Load(ctx)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				inputs = append(inputs, docs...)
			}

			log.Info("starting ingestion",
				slog.Int("documents", len(inputs)),
				slog.String("policy", string(cfg.Policy)),
			)
			res, err := pipeline.Ingest(ctx, inputs)
			if err != nil {
				return err
			}
			printResult(out, res)

			if !watch {
				if res.Ingested == 0 && len(res.Failures) > 0 {
					return errors.New("ingest: no documents were ingested")
				}
				return nil
			}

			w, err := ingestion.NewWatcher(dir, pipeline, b.store,
				config.Duration("KBQA_WATCH_DEBOUNCE", ingestion.DefaultDebounce),
				logging.Component(log, "watch"))
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Fprintf(out, "watching %s for changes, press Ctrl+C to stop\n", files)
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&files, "files", "", "Directory of documents to ingest")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories of --files")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and re-ingest changed files in --files")
	cmd.Flags().BoolVar(&sample, "sample", false, "Ingest the built-in sample corpus")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Web page to ingest (repeatable)")
	cmd.Flags().StringVar(&policy, "policy", "replace", "Upsert policy: replace or incremental (default: KBQA_INGEST_POLICY)")
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent embed+store operations (default: KBQA_INGEST_WORKERS)")

	return cmd
}

// printResult writes the batch summary and one line per failure.
func printResult(w io.Writer, res *ingestion.Result) {
	fmt.Fprintf(w, "\ningested %d of %d documents in %s", res.Ingested, res.Total, res.Duration.Round(time.Millisecond))
	if res.Skipped > 0 {
		fmt.Fprintf(w, ", %d duplicates skipped", res.Skipped)
	}
	if res.Cleared {
		fmt.Fprint(w, ", previous corpus replaced")
	}
	fmt.Fprintln(w)

	for _, f := range res.Failures {
		name := f.Source
		if name == "" {
			name = f.Title
		}
		if name == "" {
			name = fmt.Sprintf("document #%d", f.Index+1)
		}
		fmt.Fprintf(w, "  failed: %s (%s): %v\n", name, f.Kind, f.Err)
	}
}
