package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

const chartJSON = `{"chart":{"result":[{
	"meta":{"symbol":"AAPL","regularMarketTime":1705352400,"regularMarketPrice":185.9,"gmtoffset":-18000},
	"timestamp":[1705069800,1705329000,1705415400],
	"indicators":{"quote":[{
		"open":[181.0,184.5,null],
		"high":[183.0,186.5,null],
		"low":[180.5,184.0,null],
		"close":[182.5,185.9,null],
		"volume":[1000,5200000,null]
	}]}
}],"error":null}}`

func yahooServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestYahoo_LastNonNullBar(t *testing.T) {
	srv := yahooServer(t, http.StatusOK, chartJSON)
	y := NewYahoo("", time.Second)
	y.BaseURL = srv.URL

	snap, err := y.Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Ticker)
	assert.True(t, snap.Close.Equal(decimal.RequireFromString("185.9")), "close=%s", snap.Close)
	assert.True(t, snap.Open.Equal(decimal.RequireFromString("184.5")))
	assert.Equal(t, int64(5200000), snap.Volume)
	// Second bar's own timestamp, in the exchange offset: 2024-01-15 09:30 EST.
	assert.Equal(t, "2024-01-15", snap.TradingDate().Format(model.DateLayout))
}

func TestYahoo_NoResultIsNoData(t *testing.T) {
	srv := yahooServer(t, http.StatusOK, `{"chart":{"result":[],"error":null}}`)
	y := NewYahoo("", time.Second)
	y.BaseURL = srv.URL

	_, err := y.Snapshot(context.Background(), "AAPL")
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestYahoo_NotFoundIsNoData(t *testing.T) {
	srv := yahooServer(t, http.StatusNotFound, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
	y := NewYahoo("", time.Second)
	y.BaseURL = srv.URL

	_, err := y.Snapshot(context.Background(), "AAPL")
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestYahoo_ServerErrorIsNotNoData(t *testing.T) {
	srv := yahooServer(t, http.StatusBadGateway, `oops`)
	y := NewYahoo("", time.Second)
	y.BaseURL = srv.URL

	_, err := y.Snapshot(context.Background(), "AAPL")
	require.Error(t, err)
	assert.False(t, errors.Is(err, model.ErrNoData))
}

func TestStatic_Walks(t *testing.T) {
	s := NewStatic(42)
	s.Empty["DELISTED"] = true

	a, err := s.Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	b, err := s.Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, b.Open.Equal(a.Close), "each step opens at the previous close")
	assert.True(t, a.High.GreaterThanOrEqual(a.Low))

	_, err = s.Snapshot(context.Background(), "DELISTED")
	assert.ErrorIs(t, err, model.ErrNoData)
}

type flakySource struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Snapshot(_ context.Context, ticker string) (model.PriceSnapshot, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return model.PriceSnapshot{}, f.err
	}
	return model.PriceSnapshot{Ticker: ticker, Close: decimal.NewFromInt(1), ObservedAt: time.Now()}, nil
}

func TestResilient_RetriesTransientErrors(t *testing.T) {
	f := &flakySource{failures: 2, err: errors.New("connection reset")}
	r := NewResilient(f, 5*time.Second, metrics.NewMetrics(), logger.Discard())

	snap, err := r.Snapshot(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", snap.Ticker)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestResilient_NoDataIsNotRetried(t *testing.T) {
	f := &flakySource{failures: 100, err: model.ErrNoData}
	r := NewResilient(f, 5*time.Second, metrics.NewMetrics(), logger.Discard())

	for i := 0; i < 5; i++ {
		_, err := r.Snapshot(context.Background(), "AAPL")
		assert.ErrorIs(t, err, model.ErrNoData)
	}
	assert.Equal(t, int32(5), f.calls.Load())
	assert.Equal(t, gobreaker.StateClosed, r.State(), "no-data answers never trip the breaker")
}

func TestResilient_BreakerOpensOnRepeatedFailure(t *testing.T) {
	f := &flakySource{failures: 1000, err: errors.New("503")}
	r := NewResilient(f, 50*time.Millisecond, metrics.NewMetrics(), logger.Discard())

	for i := 0; i < 5; i++ {
		_, _ = r.Snapshot(context.Background(), "AAPL")
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	before := f.calls.Load()
	_, err := r.Snapshot(context.Background(), "AAPL")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, f.calls.Load(), "open breaker short-circuits the call")
}

func TestNew(t *testing.T) {
	src, err := New(Options{Kind: "static", Retry: true}, metrics.NewMetrics(), logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "static", src.Name())

	_, err = New(Options{Kind: "bloomberg"}, metrics.NewMetrics(), logger.Discard())
	assert.Error(t, err)
}
