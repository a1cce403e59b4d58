package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbqa-go/internal/logging"
	"github.com/54b3r/kbqa-go/internal/retrieval"
	"github.com/54b3r/kbqa-go/internal/server"
)

// NewServeCmd constructs the `kbqa serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbqa HTTP server",
		Long: `Start the kbqa HTTP server.

Endpoints:
  POST /api/ask       {"question": "..."} -> {"answer": "..."}
  GET  /api/history   the caller's previous questions, most recent first
  GET  /api/health    liveness
  GET  /api/ready     store and embedder readiness
  GET  /metrics       Prometheus metrics

Callers are identified by bearer tokens listed in KBQA_API_TOKENS
("token=user,token2=user2"). Without it the server runs in development mode
and trusts the X-User-ID header.

Examples:
  kbqa serve
  kbqa serve --port 9090
  KBQA_STORE=postgres DATABASE_URL=postgres://... kbqa serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			srvCfg, err := server.ConfigFromEnv()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if cmd.Flags().Changed("host") {
				srvCfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				srvCfg.Port = port
			}

			b, err := openBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer b.Close()
			b.warnLexical()

			metrics := server.NewMetrics(prometheus.DefaultRegisterer)
			if err := metrics.RegisterEmbedderLoads(func() float64 { return float64(b.emb.Loads()) }); err != nil {
				log.Warn("serve: embedder load gauge not registered", slog.Any("error", err))
			}

			eng, flush, err := newEngine(ctx, b, metrics.ObserveAsk)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer flush()

			srvCfg.Logger = log
			srvCfg.Metrics = metrics
			srvCfg.Pingers = []server.Pinger{
				server.NewPinger("store", b.store.Ping),
				server.NewPinger("embedder", b.emb.Ping),
			}

			history := retrieval.NewHistory(b.store, retrieval.HistoryLimitFromEnv())
			srv, err := server.New(eng, history, srvCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides KBQA_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides KBQA_PORT)")

	return cmd
}
