package source

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockvision/internal/model"
)

// Static generates a deterministic random walk per ticker. It never calls
// out and is meant for development and tests.
type Static struct {
	mu    sync.Mutex
	rng   *rand.Rand
	last  map[string]float64
	Empty map[string]bool // tickers that report no data
	Now   func() time.Time
}

// NewStatic creates a Static source seeded with seed.
func NewStatic(seed int64) *Static {
	return &Static{
		rng:   rand.New(rand.NewSource(seed)),
		last:  make(map[string]float64),
		Empty: make(map[string]bool),
		Now:   time.Now,
	}
}

func (s *Static) Name() string { return "static" }

// Snapshot returns the next step of the ticker's walk.
func (s *Static) Snapshot(ctx context.Context, ticker string) (model.PriceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return model.PriceSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Empty[ticker] {
		return model.PriceSnapshot{}, model.ErrNoData
	}

	prev, ok := s.last[ticker]
	if !ok {
		prev = 50 + s.rng.Float64()*450
	}
	change := (s.rng.Float64() - 0.5) * 0.04 * prev
	open := prev
	closePx := prev + change
	high := max(open, closePx) * (1 + s.rng.Float64()*0.01)
	low := min(open, closePx) * (1 - s.rng.Float64()*0.01)
	s.last[ticker] = closePx

	return model.PriceSnapshot{
		Ticker:     ticker,
		Open:       decimal.NewFromFloat(open).Round(2),
		High:       decimal.NewFromFloat(high).Round(2),
		Low:        decimal.NewFromFloat(low).Round(2),
		Close:      decimal.NewFromFloat(closePx).Round(2),
		Volume:     1_000_000 + s.rng.Int63n(9_000_000),
		ObservedAt: s.Now(),
	}, nil
}
