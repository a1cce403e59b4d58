package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the route pattern rather than the raw URL path.
	labelHandler = "handler"

	// unmatchedRoute labels requests no route matched, so that arbitrary
	// paths cannot blow up label cardinality.
	unmatchedRoute = "unmatched"
)

// Metrics holds all Prometheus metrics owned by the HTTP server.
// Tests inject a fresh prometheus.Registry to keep the default one clean.
type Metrics struct {
	// askRequestsTotal counts completed questions, partitioned by outcome:
	// "answered", "no_match", or an error kind.
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the end-to-end latency of each question.
	askDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the router,
	// partitioned by method, route pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewMetrics registers all server metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,

		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbqa",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of questions answered, partitioned by outcome.",
		}, []string{"outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbqa",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Latency of askQuestion from embedding to recorded history.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// ObserveAsk records one askQuestion outcome. It matches the Observe hook
// of retrieval.Config.
func (m *Metrics) ObserveAsk(outcome string, took time.Duration) {
	m.askRequestsTotal.WithLabelValues(outcome).Inc()
	m.askDurationSeconds.WithLabelValues(outcome).Observe(took.Seconds())
}

// RegisterEmbedderLoads exposes the number of embedding model loads as a
// gauge. Called once at startup when the embedder reports its load count.
func (m *Metrics) RegisterEmbedderLoads(loads func() float64) error {
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kbqa",
		Subsystem: "embedder",
		Name:      "loads",
		Help:      "Number of times the embedding model has been loaded by this process.",
	}, loads))
}

// instrument records request count and latency per route pattern. The
// pattern is read after the handler runs, once chi has resolved the route.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
	})
}
