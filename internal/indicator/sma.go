// Package indicator provides windowed statistics over daily closes.
package indicator

import "github.com/shopspring/decimal"

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer; decimals keep sums exact.
type SMA struct {
	period  int
	buf     []decimal.Decimal // preallocated circular buffer
	idx     int               // current write position
	count   int               // total values received
	sum     decimal.Decimal
	current decimal.Decimal
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		buf:    make([]decimal.Decimal, period),
	}
}

// Update feeds the next value in chronological order.
func (s *SMA) Update(price decimal.Decimal) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum = s.sum.Sub(s.buf[s.idx])
	}

	s.buf[s.idx] = price
	s.sum = s.sum.Add(price)
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum.Div(decimal.NewFromInt(int64(s.period)))
	}
}

// Ready reports whether at least period values have been seen.
func (s *SMA) Ready() bool { return s.count >= s.period }

// Nullable returns the average, or an invalid NullDecimal while under-filled.
func (s *SMA) Nullable() decimal.NullDecimal {
	if !s.Ready() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(s.current)
}
