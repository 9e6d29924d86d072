// Package analytics derives trailing moving averages from persisted prices.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"stockvision/internal/indicator"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

// Store is what the engine needs from the relational store.
type Store interface {
	model.PriceReader
	model.AnalysisWriter
}

// Config holds the window sizes.
type Config struct {
	ShortWindow int // default 5
	LongWindow  int // default 10, strictly greater than ShortWindow
	MaxLookback int // upper bound on rows read, default 30
}

// Validate checks the window invariants.
func (c Config) Validate() error {
	if c.ShortWindow < 1 {
		return fmt.Errorf("short window must be positive, got %d", c.ShortWindow)
	}
	if c.LongWindow <= c.ShortWindow {
		return fmt.Errorf("long window (%d) must be greater than short window (%d)", c.LongWindow, c.ShortWindow)
	}
	if c.MaxLookback < c.LongWindow {
		return fmt.Errorf("max lookback (%d) must cover the long window (%d)", c.MaxLookback, c.LongWindow)
	}
	return nil
}

// Engine computes and stores moving averages per ticker.
type Engine struct {
	cfg   Config
	store Store
	prom  *metrics.Metrics
	log   *slog.Logger

	// Now stamps analysis_date. Defaults to time.Now.
	Now func() time.Time
}

// NewEngine creates an Engine. cfg must already be valid.
func NewEngine(cfg Config, store Store, prom *metrics.Metrics, log *slog.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		store: store,
		prom:  prom,
		log:   log.With("component", "analyzer"),
		Now:   time.Now,
	}
}

// lookback is the number of rows read per analysis.
func (e *Engine) lookback() int {
	n := e.cfg.LongWindow
	if e.cfg.ShortWindow > n {
		n = e.cfg.ShortWindow
	}
	if e.cfg.MaxLookback > 0 && n > e.cfg.MaxLookback {
		n = e.cfg.MaxLookback
	}
	return n
}

// Compute returns the trailing short and long averages of the closes in rows,
// which must be in ascending date order. A window with fewer rows than its
// size yields an invalid (null) value.
func Compute(rows []model.PriceRow, short, long int) (maShort, maLong decimal.NullDecimal) {
	s, l := indicator.NewSMA(short), indicator.NewSMA(long)
	for _, r := range rows {
		s.Update(r.Close)
		l.Update(r.Close)
	}
	return s.Nullable(), l.Nullable()
}

// Analyze reads the most recent rows for ticker, computes the moving averages
// at the latest date and upserts the result stamped with today's date.
// A ticker with no rows returns (nil, nil) and stores nothing.
func (e *Engine) Analyze(ctx context.Context, ticker string) (*model.AnalysisResult, error) {
	start := time.Now()

	rows, err := e.store.RecentPrices(ctx, ticker, e.lookback())
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrStorageFailure, ticker, err)
	}
	if len(rows) == 0 {
		e.log.Info("no price data for ticker", "ticker", ticker)
		e.prom.AnalysesEmpty.Inc()
		return nil, nil
	}

	// Newest-first from the store; the windows need chronological order.
	asc := make([]model.PriceRow, len(rows))
	for i, r := range rows {
		asc[len(rows)-1-i] = r
	}
	maShort, maLong := Compute(asc, e.cfg.ShortWindow, e.cfg.LongWindow)

	now := e.Now()
	res := &model.AnalysisResult{
		Ticker:       ticker,
		AnalysisDate: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		AnalysisType: model.AnalysisMovingAverage,
		MAShort:      maShort,
		MALong:       maLong,
	}
	if err := e.store.UpsertAnalysis(ctx, *res); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageFailure, err)
	}

	e.prom.AnalysesWritten.Inc()
	e.prom.AnalysisDur.Observe(time.Since(start).Seconds())
	e.log.Info("stored analysis",
		"ticker", ticker,
		"date", res.AnalysisDate.Format(model.DateLayout),
		"rows", len(rows),
		"ma_short", nullString(maShort),
		"ma_long", nullString(maLong),
	)
	return res, nil
}

// AnalyzeAll analyzes every ticker independently. Failures are logged and
// counted; the rest of the batch continues.
func (e *Engine) AnalyzeAll(ctx context.Context, tickers []string) (written int) {
	for _, t := range tickers {
		if ctx.Err() != nil {
			return written
		}
		res, err := e.Analyze(ctx, t)
		if err != nil {
			e.prom.StorageFailures.WithLabelValues("analyzer").Inc()
			e.log.Error("scheduled analysis failed", "ticker", t, "error", err)
			continue
		}
		if res != nil {
			written++
		}
	}
	return written
}

func nullString(n decimal.NullDecimal) string {
	if !n.Valid {
		return "null"
	}
	return n.Decimal.String()
}
