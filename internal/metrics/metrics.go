package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
// Each instance owns its registry so several components (or tests) can
// coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// Ingest publisher
	SnapshotsFetched  prometheus.Counter
	SnapshotsSkipped  prometheus.Counter
	SnapshotsFailed   prometheus.Counter
	MessagesPublished prometheus.Counter
	PublishFailures   prometheus.Counter
	BatchDur          prometheus.Histogram
	SourceBreaker     prometheus.Gauge // 0=closed, 1=half-open, 2=open

	// Consumers, labelled by component (recorder, analyzer)
	MessagesConsumed  *prometheus.CounterVec
	MalformedMessages *prometheus.CounterVec
	StorageFailures   *prometheus.CounterVec

	// Store writer
	UpsertDur prometheus.Histogram

	// Analytics
	AnalysesWritten prometheus.Counter
	AnalysesEmpty   prometheus.Counter
	AnalysisDur     prometheus.Histogram

	// HTTP surface
	HTTPRequests *prometheus.CounterVec // labels: path, code
	HTTPDur      *prometheus.HistogramVec
}

// NewMetrics registers and returns all Prometheus metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		SnapshotsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_snapshots_fetched_total",
			Help: "Snapshots returned by the price source",
		}),
		SnapshotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_snapshots_skipped_total",
			Help: "Tickers skipped because the source had no data",
		}),
		SnapshotsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_snapshots_failed_total",
			Help: "Tickers whose fetch failed",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_messages_published_total",
			Help: "Snapshot messages published to the bus",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_publish_failures_total",
			Help: "Snapshot messages that could not be published",
		}),
		BatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockvision_batch_duration_seconds",
			Help:    "Duration of one collect-and-publish batch",
			Buckets: prometheus.DefBuckets,
		}),
		SourceBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockvision_source_breaker_state",
			Help: "Price source circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),

		MessagesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockvision_messages_consumed_total",
			Help: "Bus messages received, by component",
		}, []string{"component"}),
		MalformedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockvision_malformed_messages_total",
			Help: "Bus messages dropped as malformed, by component",
		}, []string{"component"}),
		StorageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockvision_storage_failures_total",
			Help: "Database operations that failed, by component",
		}, []string{"component"}),

		UpsertDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockvision_price_upsert_duration_seconds",
			Help:    "Price row upsert latency",
			Buckets: prometheus.DefBuckets,
		}),

		AnalysesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_analyses_written_total",
			Help: "Moving-average results upserted",
		}),
		AnalysesEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockvision_analyses_empty_total",
			Help: "Analyses skipped because the ticker had no price rows",
		}),
		AnalysisDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockvision_analysis_duration_seconds",
			Help:    "Read-compute-upsert latency of one analysis",
			Buckets: prometheus.DefBuckets,
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockvision_http_requests_total",
			Help: "HTTP requests served",
		}, []string{"path", "code"}),
		HTTPDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockvision_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"path"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SnapshotsFetched,
		m.SnapshotsSkipped,
		m.SnapshotsFailed,
		m.MessagesPublished,
		m.PublishFailures,
		m.BatchDur,
		m.SourceBreaker,
		m.MessagesConsumed,
		m.MalformedMessages,
		m.StorageFailures,
		m.UpsertDur,
		m.AnalysesWritten,
		m.AnalysesEmpty,
		m.AnalysisDur,
		m.HTTPRequests,
		m.HTTPDur,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Check is a named liveness probe, e.g. a database or bus ping.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthStatus runs registered checks on demand and reports the result.
type HealthStatus struct {
	mu        sync.RWMutex
	checks    []Check
	startedAt time.Time
}

// NewHealthStatus returns a health status with the given checks.
func NewHealthStatus(checks ...Check) *HealthStatus {
	return &HealthStatus{
		checks:    checks,
		startedAt: time.Now(),
	}
}

// Add registers another check.
func (h *HealthStatus) Add(c Check) {
	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]Check(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	overall := "healthy"
	httpCode := http.StatusOK
	results := make(map[string]string, len(checks))
	for _, c := range checks {
		if err := c.Probe(ctx); err != nil {
			results[c.Name] = err.Error()
			overall = "degraded"
			httpCode = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}

	status := struct {
		Status string            `json:"status"`
		Uptime string            `json:"uptime"`
		Checks map[string]string `json:"checks"`
	}{
		Status: overall,
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
		Checks: results,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
