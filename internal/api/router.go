// Package api serves the read-only HTTP query surface and the dashboard.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

// DefaultLimit caps every listing.
const DefaultLimit = 50

// Store is what the API reads.
type Store interface {
	model.PriceReader
	model.AnalysisReader
	Ping(ctx context.Context) error
}

// Server holds the handlers' dependencies.
type Server struct {
	store Store
	prom  *metrics.Metrics
	log   *slog.Logger

	// Now is shown on the dashboard. Defaults to time.Now.
	Now func() time.Time
}

// NewServer creates the API server.
func NewServer(store Store, prom *metrics.Metrics, log *slog.Logger) *Server {
	return &Server{
		store: store,
		prom:  prom,
		log:   log.With("component", "api"),
		Now:   time.Now,
	}
}

// Router sets up HTTP routes for the API server.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.Handle("GET /healthz", metrics.NewHealthStatus(metrics.Check{Name: "database", Probe: s.store.Ping}))
	mux.Handle("GET /metrics", s.prom.Handler())

	mux.HandleFunc("GET /api/stock_data", s.handleStockData)
	mux.HandleFunc("GET /api/analysis_results", s.handleAnalysisResults)
	mux.HandleFunc("GET /{$}", s.handleDashboard)

	return s.requestLogger(mux)
}

// stockDataDTO is one row of GET /api/stock_data.
type stockDataDTO struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

func (s *Server) handleStockData(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	rows, err := s.store.RecentPrices(r.Context(), ticker, DefaultLimit)
	if err != nil {
		s.log.Error("query stock data", "ticker", ticker, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]stockDataDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, stockDataDTO{
			Ticker: row.Ticker,
			Date:   row.TradingDate.Format(model.DateLayout),
			Open:   row.Open.InexactFloat64(),
			High:   row.High.InexactFloat64(),
			Low:    row.Low.InexactFloat64(),
			Close:  row.Close.InexactFloat64(),
			Volume: row.Volume,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// analysisDTO is one row of GET /api/analysis_results.
type analysisDTO struct {
	Ticker       string   `json:"ticker"`
	AnalysisDate string   `json:"analysis_date"`
	MAShort      *float64 `json:"ma_short"`
	MALong       *float64 `json:"ma_long"`
}

func (s *Server) handleAnalysisResults(w http.ResponseWriter, r *http.Request) {
	ticker := r.URL.Query().Get("ticker")
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "Ticker is required")
		return
	}

	results, err := s.store.AnalysisResults(r.Context(), ticker, model.AnalysisMovingAverage, DefaultLimit)
	if err != nil {
		s.log.Error("query analysis results", "ticker", ticker, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]analysisDTO, 0, len(results))
	for _, res := range results {
		dto := analysisDTO{
			Ticker:       res.Ticker,
			AnalysisDate: res.AnalysisDate.Format(model.DateLayout),
		}
		if res.MAShort.Valid {
			v := res.MAShort.Decimal.InexactFloat64()
			dto.MAShort = &v
		}
		if res.MALong.Valid {
			v := res.MALong.Decimal.InexactFloat64()
			dto.MALong = &v
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ListenAndServe serves the router on addr until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("api server shutting down")
		return srv.Shutdown(shutCtx)
	}
}
