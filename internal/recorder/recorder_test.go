package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockvision/internal/bus"
	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
	"stockvision/internal/store/sqlstore"
)

func newTestRecorder(t *testing.T) (*Recorder, *sqlstore.Store, *metrics.Metrics) {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.Config{Driver: sqlstore.DialectSQLite, DSN: ":memory:"}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	m := metrics.NewMetrics()
	return New(s, m, logger.Discard()), s, m
}

func msg(body string) bus.Message { return bus.Message{ID: "test-1", Body: []byte(body)} }

func TestHandle_StoresRow(t *testing.T) {
	r, s, _ := newTestRecorder(t)
	ctx := context.Background()

	err := r.Handle(ctx, msg(`{"ticker":"AAPL","open":185.1,"high":186.2,"low":184.3,"close":185.9,"volume":5200000,"timestamp":"2024-01-15T16:00:00.123456"}`))
	require.NoError(t, err)

	rows, err := s.RecentPrices(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-15", rows[0].TradingDate.Format(model.DateLayout))
	assert.True(t, rows[0].Close.Equal(decimal.RequireFromString("185.9")))
	assert.Equal(t, int64(5200000), rows[0].Volume)
}

func TestHandle_SameDayTwiceKeepsOneRow(t *testing.T) {
	r, s, _ := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, msg(`{"ticker":"AAPL","close":100,"volume":10,"timestamp":"2024-01-15T10:00:00"}`)))
	require.NoError(t, r.Handle(ctx, msg(`{"ticker":"AAPL","close":101,"volume":20,"timestamp":"2024-01-15T15:59:00"}`)))

	rows, err := s.RecentPrices(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Close.Equal(decimal.NewFromInt(101)), "latest snapshot wins")
	assert.Equal(t, int64(20), rows[0].Volume)
}

func TestHandle_MissingFieldsDefaultToZero(t *testing.T) {
	r, s, _ := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, msg(`{"ticker":"TSLA","timestamp":"2024-01-15"}`)))

	rows, err := s.RecentPrices(ctx, "TSLA", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Open.IsZero())
	assert.True(t, rows[0].Close.IsZero())
	assert.Equal(t, int64(0), rows[0].Volume)
}

func TestHandle_Malformed(t *testing.T) {
	r, s, m := newTestRecorder(t)
	ctx := context.Background()

	for _, body := range []string{
		`{"ticker":"AAPL","close":100}`,
		`{"ticker":"AAPL","close":100,"timestamp":"yesterday"}`,
		`{"close":100,"timestamp":"2024-01-15T10:00:00"}`,
		`not json`,
	} {
		err := r.Handle(ctx, msg(body))
		assert.ErrorIs(t, err, model.ErrMalformedMessage, body)
	}

	rows, err := s.LatestPrices(ctx, "", 50)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.MalformedMessages.WithLabelValues("recorder")))
}

type brokenStore struct{}

func (brokenStore) UpsertPrice(context.Context, model.PriceRow) error {
	return errors.New("connection refused")
}

func TestHandle_StorageFailure(t *testing.T) {
	m := metrics.NewMetrics()
	r := New(brokenStore{}, m, logger.Discard())

	err := r.Handle(context.Background(), msg(`{"ticker":"AAPL","close":1,"timestamp":"2024-01-15T10:00:00"}`))
	assert.ErrorIs(t, err, model.ErrStorageFailure)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageFailures.WithLabelValues("recorder")))
}

func TestService_ConsumesUntilCancelled(t *testing.T) {
	r, s, _ := newTestRecorder(t)
	b := bus.NewMemory(10)
	topo := bus.Topology{Queue: "stock_data_queue"}
	svc := NewService(topo, b, r, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		return b.Publish(ctx, bus.DefaultExchange, bus.DefaultRoutingKey, msg(`{"ticker":"AAPL","close":1,"timestamp":"2024-01-15T10:00:00"}`)) == nil &&
			len(b.Stats()) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		rows, _ := s.RecentPrices(context.Background(), "AAPL", 1)
		return len(rows) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
	assert.ErrorIs(t, b.Err(), bus.ErrClosed, "bus is closed when the loop exits")
}
