package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// DateLayout is the calendar-date format used for trading and analysis dates.
const DateLayout = "2006-01-02"

// timestampLayouts are tried in order when decoding a snapshot timestamp.
// Zone-less forms are kept as written (no conversion to UTC).
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	DateLayout,
}

// PriceSnapshot is the most recent OHLCV tuple for one ticker as published on the bus.
// Prices are decimals to avoid float drift between publish and persist.
type PriceSnapshot struct {
	Ticker     string
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     int64
	ObservedAt time.Time
}

// TradingDate returns the calendar date of ObservedAt as written by the publisher.
func (s PriceSnapshot) TradingDate() time.Time {
	y, m, d := s.ObservedAt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Row converts the snapshot into the persisted form keyed by (ticker, trading date).
func (s PriceSnapshot) Row() PriceRow {
	return PriceRow{
		Ticker:      s.Ticker,
		TradingDate: s.TradingDate(),
		Open:        s.Open,
		High:        s.High,
		Low:         s.Low,
		Close:       s.Close,
		Volume:      s.Volume,
	}
}

// snapshotWire is the JSON shape exchanged on the bus.
type snapshotWire struct {
	Ticker    string          `json:"ticker"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    json.Number     `json:"volume"`
	Timestamp string          `json:"timestamp"`
}

// MarshalJSON encodes the snapshot in its wire form.
func (s PriceSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotWire{
		Ticker:    s.Ticker,
		Open:      s.Open,
		High:      s.High,
		Low:       s.Low,
		Close:     s.Close,
		Volume:    json.Number(fmt.Sprintf("%d", s.Volume)),
		Timestamp: s.ObservedAt.Format(time.RFC3339Nano),
	})
}

// DecodeSnapshot parses a wire message. Missing price fields default to zero.
// A body that is not JSON, has no ticker, or has no parseable timestamp
// yields ErrMalformedMessage.
func DecodeSnapshot(body []byte) (PriceSnapshot, error) {
	var w snapshotWire
	if err := json.Unmarshal(body, &w); err != nil {
		return PriceSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	ticker := strings.TrimSpace(w.Ticker)
	if ticker == "" {
		return PriceSnapshot{}, fmt.Errorf("%w: missing ticker", ErrMalformedMessage)
	}
	if w.Timestamp == "" {
		return PriceSnapshot{}, fmt.Errorf("%w: %s: missing timestamp", ErrMalformedMessage, ticker)
	}
	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, ticker, err)
	}
	vol, err := parseVolume(w.Volume)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, ticker, err)
	}

	return PriceSnapshot{
		Ticker:     ticker,
		Open:       w.Open,
		High:       w.High,
		Low:        w.Low,
		Close:      w.Close,
		Volume:     vol,
		ObservedAt: ts,
	}, nil
}

// ParseTimestamp accepts ISO-8601 timestamps with or without a zone offset.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// parseVolume accepts integral JSON numbers, including float spellings like
// 1500.0. Fractional or out-of-range volumes are rejected.
func parseVolume(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, fmt.Errorf("invalid volume %q", n)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("fractional volume %q", n)
	}
	if d.LessThan(minVolume) || d.GreaterThan(maxVolume) {
		return 0, fmt.Errorf("volume %q out of range", n)
	}
	return d.IntPart(), nil
}

var (
	minVolume = decimal.NewFromInt(math.MinInt64)
	maxVolume = decimal.NewFromInt(math.MaxInt64)
)
