package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

// Resilient wraps a Source with per-call exponential backoff and a circuit
// breaker shared across tickers. "No data" is a normal answer: it is not
// retried and does not count against the breaker.
type Resilient struct {
	inner   Source
	cb      *gobreaker.CircuitBreaker
	maxWait time.Duration
	log     *slog.Logger
}

// NewResilient wraps inner. maxWait bounds the retries for one ticker.
func NewResilient(inner Source, maxWait time.Duration, prom *metrics.Metrics, log *slog.Logger) *Resilient {
	if maxWait == 0 {
		maxWait = 20 * time.Second
	}
	log = log.With("component", "source", "source", inner.Name())

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, model.ErrNoData) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			if prom != nil {
				prom.SourceBreaker.Set(float64(to))
			}
		},
	})

	return &Resilient{inner: inner, cb: cb, maxWait: maxWait, log: log}
}

func (r *Resilient) Name() string { return r.inner.Name() }

// Snapshot calls the inner source through the breaker, retrying transient errors.
func (r *Resilient) Snapshot(ctx context.Context, ticker string) (model.PriceSnapshot, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = r.maxWait
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.1

	var snap model.PriceSnapshot
	operation := func() error {
		out, err := r.cb.Execute(func() (interface{}, error) {
			return r.inner.Snapshot(ctx, ticker)
		})
		if err != nil {
			if errors.Is(err, model.ErrNoData) ||
				errors.Is(err, gobreaker.ErrOpenState) ||
				errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = out.(model.PriceSnapshot)
		return nil
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			r.log.Warn("snapshot fetch failed, retrying", "ticker", ticker, "error", err, "backoff", d)
		})
	return snap, err
}

// State returns the breaker state.
func (r *Resilient) State() gobreaker.State { return r.cb.State() }
