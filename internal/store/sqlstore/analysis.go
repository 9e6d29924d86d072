package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"stockvision/internal/model"
)

const upsertAnalysisSQL = `
	INSERT INTO analysis_results (ticker, analysis_date, analysis_type, result_json)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (ticker, analysis_date, analysis_type) DO UPDATE SET
		result_json = excluded.result_json,
		updated_at  = excluded.updated_at`

// UpsertAnalysis stores res, replacing any result with the same
// (ticker, analysis_date, analysis_type).
func (s *Store) UpsertAnalysis(ctx context.Context, res model.AnalysisResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode analysis %s: %w", res.Key(), err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(upsertAnalysisSQL),
		res.Ticker,
		res.AnalysisDate.Format(model.DateLayout),
		res.AnalysisType,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert analysis %s: %w", res.Key(), err)
	}
	return nil
}

// AnalysisResults returns up to limit results for ticker, newest first.
func (s *Store) AnalysisResults(ctx context.Context, ticker, analysisType string, limit int) ([]model.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT analysis_type, result_json
		FROM analysis_results
		WHERE ticker = ? AND analysis_type = ?
		ORDER BY analysis_date DESC
		LIMIT ?`), ticker, analysisType, limit)
	if err != nil {
		return nil, fmt.Errorf("query analysis: %w", err)
	}
	defer rows.Close()

	out := make([]model.AnalysisResult, 0)
	for rows.Next() {
		var (
			typ     string
			payload []byte
		)
		if err := rows.Scan(&typ, &payload); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		res, err := model.DecodeAnalysis(typ, payload)
		if err != nil {
			s.log.Warn("skipping undecodable analysis row", "ticker", ticker, "error", err)
			continue
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
