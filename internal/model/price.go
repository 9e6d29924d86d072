package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PriceRow is the persisted daily price for a ticker.
// There is at most one row per (Ticker, TradingDate); a later snapshot for the
// same key overwrites every OHLCV field.
type PriceRow struct {
	Ticker      string          `json:"ticker"`
	TradingDate time.Time       `json:"-"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
}

// Key returns "ticker:YYYY-MM-DD".
func (r PriceRow) Key() string {
	return r.Ticker + ":" + r.TradingDate.Format(DateLayout)
}

// MarshalJSON renders the trading date as a plain calendar date.
func (r PriceRow) MarshalJSON() ([]byte, error) {
	type alias PriceRow
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias(r), r.TradingDate.Format(DateLayout)})
}
