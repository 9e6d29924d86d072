package model

import (
	"context"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline components from the concrete
// relational store (SQLite or PostgreSQL).

// PriceWriter persists price snapshots.
type PriceWriter interface {
	// UpsertPrice inserts or overwrites the row keyed by (ticker, trading date)
	// in a single atomic statement.
	UpsertPrice(ctx context.Context, row PriceRow) error
}

// PriceReader reads persisted prices.
type PriceReader interface {
	// RecentPrices returns up to limit rows for ticker, newest trading date first.
	RecentPrices(ctx context.Context, ticker string, limit int) ([]PriceRow, error)

	// LatestPrices returns up to limit rows, newest first. An empty ticker
	// matches every ticker.
	LatestPrices(ctx context.Context, ticker string, limit int) ([]PriceRow, error)
}

// AnalysisWriter persists derived results.
type AnalysisWriter interface {
	// UpsertAnalysis inserts or overwrites the result keyed by
	// (ticker, analysis date, analysis type).
	UpsertAnalysis(ctx context.Context, res AnalysisResult) error
}

// AnalysisReader reads derived results.
type AnalysisReader interface {
	// AnalysisResults returns up to limit results of analysisType for ticker,
	// newest analysis date first.
	AnalysisResults(ctx context.Context, ticker, analysisType string, limit int) ([]AnalysisResult, error)
}

// Store is the full relational store used by the API and the all-in-one process.
type Store interface {
	PriceWriter
	PriceReader
	AnalysisWriter
	AnalysisReader

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
