package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stockvision/internal/model"
)

const upsertPriceSQL = `
	INSERT INTO price_rows (ticker, trading_date, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (ticker, trading_date) DO UPDATE SET
		open       = excluded.open,
		high       = excluded.high,
		low        = excluded.low,
		close      = excluded.close,
		volume     = excluded.volume,
		updated_at = excluded.updated_at`

// UpsertPrice writes row, overwriting every OHLCV field if the
// (ticker, trading_date) key already exists.
func (s *Store) UpsertPrice(ctx context.Context, row model.PriceRow) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertPriceSQL),
		row.Ticker,
		row.TradingDate.Format(model.DateLayout),
		row.Open,
		row.High,
		row.Low,
		row.Close,
		row.Volume,
	)
	if err != nil {
		return fmt.Errorf("upsert price %s: %w", row.Key(), err)
	}
	return nil
}

// RecentPrices returns up to limit rows for ticker, newest first.
func (s *Store) RecentPrices(ctx context.Context, ticker string, limit int) ([]model.PriceRow, error) {
	return s.queryPrices(ctx, `
		SELECT ticker, trading_date, open, high, low, close, volume
		FROM price_rows
		WHERE ticker = ?
		ORDER BY trading_date DESC
		LIMIT ?`, ticker, limit)
}

// LatestPrices returns up to limit rows, newest first, across all tickers
// when ticker is empty.
func (s *Store) LatestPrices(ctx context.Context, ticker string, limit int) ([]model.PriceRow, error) {
	if ticker != "" {
		return s.RecentPrices(ctx, ticker, limit)
	}
	return s.queryPrices(ctx, `
		SELECT ticker, trading_date, open, high, low, close, volume
		FROM price_rows
		ORDER BY trading_date DESC, ticker ASC
		LIMIT ?`, limit)
}

func (s *Store) queryPrices(ctx context.Context, query string, args ...any) ([]model.PriceRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	out := make([]model.PriceRow, 0)
	for rows.Next() {
		var (
			r    model.PriceRow
			date dateValue
		)
		if err := rows.Scan(&r.Ticker, &date, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		r.TradingDate = date.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// dateValue scans a DATE (postgres) or YYYY-MM-DD TEXT (sqlite) column.
type dateValue struct {
	time.Time
}

func (d *dateValue) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		y, m, day := v.Date()
		d.Time = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		d.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported date type %T", src)
	}
}

func (d *dateValue) parse(s string) error {
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

var (
	_ sql.Scanner = (*dateValue)(nil)
	_ model.Store = (*Store)(nil)
)
