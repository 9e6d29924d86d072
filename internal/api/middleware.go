package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"stockvision/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogger tags each request with an id, logs it and records metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.WithTraceID(r.Context(), requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		route := routeLabel(r.URL.Path)
		s.prom.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.prom.HTTPDur.WithLabelValues(route).Observe(elapsed.Seconds())
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", rec.status,
			"duration", elapsed.String(),
			"request_id", requestID,
		)
	})
}

// routeLabel bounds metric cardinality to the known routes.
func routeLabel(path string) string {
	switch path {
	case "/", "/healthz", "/metrics", "/api/stock_data", "/api/analysis_results":
		return path
	default:
		return "other"
	}
}
