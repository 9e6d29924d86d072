package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
	"stockvision/internal/store/sqlstore"
)

func newTestServer(t *testing.T) (*Server, *sqlstore.Store) {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.Config{Driver: sqlstore.DialectSQLite, DSN: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	srv := NewServer(s, metrics.NewMetrics(), logger.Discard())
	srv.Now = func() time.Time { return time.Date(2024, 1, 16, 9, 30, 0, 0, time.UTC) }
	return srv, s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStockData_RequiresTicker(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Router(), "/api/stock_data")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Ticker is required"}`, rec.Body.String())
}

func TestStockData_EmptyIsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Router(), "/api/stock_data?ticker=NOPE")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestStockData_ReturnsNewestFirst(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	for i, d := range []string{"2024-01-14", "2024-01-15"} {
		date, _ := time.Parse(model.DateLayout, d)
		require.NoError(t, s.UpsertPrice(ctx, model.PriceRow{
			Ticker:      "AAPL",
			TradingDate: date,
			Open:        decimal.NewFromInt(int64(100 + i)),
			Close:       decimal.RequireFromString("185.5"),
			Volume:      42,
		}))
	}

	rec := get(t, srv.Router(), "/api/stock_data?ticker=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []stockDataDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-15", rows[0].Date)
	assert.Equal(t, 185.5, rows[0].Close)
	assert.Equal(t, int64(42), rows[0].Volume)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAnalysisResults(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Router()

	rec := get(t, h, "/api/analysis_results")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/api/analysis_results?ticker=AAPL")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	date, _ := time.Parse(model.DateLayout, "2024-01-16")
	require.NoError(t, s.UpsertAnalysis(context.Background(), model.AnalysisResult{
		Ticker:       "AAPL",
		AnalysisDate: date,
		AnalysisType: model.AnalysisMovingAverage,
		MAShort:      decimal.NewNullDecimal(decimal.NewFromInt(104)),
	}))

	rec = get(t, h, "/api/analysis_results?ticker=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"ticker":"AAPL","analysis_date":"2024-01-16","ma_short":104,"ma_long":null}]`, rec.Body.String())
}

func TestDashboard(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Router()

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2024-01-16 09:30:00")
	assert.Contains(t, rec.Body.String(), "No price data yet.")

	date, _ := time.Parse(model.DateLayout, "2024-01-15")
	require.NoError(t, s.UpsertPrice(context.Background(), model.PriceRow{
		Ticker:      "MSFT",
		TradingDate: date,
		Close:       decimal.RequireFromString("390.1"),
	}))

	rec = get(t, h, "/")
	body := rec.Body.String()
	assert.Contains(t, body, "<td>MSFT</td>")
	assert.Contains(t, body, "390.10")
	assert.True(t, strings.Contains(body, "2024-01-15"))
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := get(t, srv.Router(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Router()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	get(t, h, "/api/stock_data?ticker=AAPL")
	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockvision_http_requests_total{code="200",path="/api/stock_data"} 1`)
}
