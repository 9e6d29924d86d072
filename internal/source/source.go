// Package source fetches the latest daily price snapshot for a ticker.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

// Source returns the most recent OHLCV tuple for a ticker, or an error
// wrapping model.ErrNoData when nothing is available.
type Source interface {
	Name() string
	Snapshot(ctx context.Context, ticker string) (model.PriceSnapshot, error)
}

// Options selects and configures a Source.
type Options struct {
	Kind    string // yahoo | static
	BaseURL string // yahoo only; empty uses the public endpoint
	Proxy   string
	Timeout time.Duration

	Retry   bool          // wrap with backoff + circuit breaker
	MaxWait time.Duration // retry budget per ticker
}

// New builds the configured source.
func New(opts Options, prom *metrics.Metrics, log *slog.Logger) (Source, error) {
	var src Source
	switch opts.Kind {
	case "yahoo", "":
		y := NewYahoo(opts.Proxy, opts.Timeout)
		if opts.BaseURL != "" {
			y.BaseURL = opts.BaseURL
		}
		src = y
	case "static":
		src = NewStatic(time.Now().UnixNano())
	default:
		return nil, fmt.Errorf("unknown source %q", opts.Kind)
	}
	if opts.Retry {
		src = NewResilient(src, opts.MaxWait, prom, log)
	}
	return src, nil
}
