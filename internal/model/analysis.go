package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisMovingAverage is the analysis_type stored with moving-average results.
const AnalysisMovingAverage = "moving_average"

// AnalysisResult is a derived moving-average record.
// MAShort and MALong are invalid (null) when fewer rows than the window exist.
type AnalysisResult struct {
	Ticker       string
	AnalysisDate time.Time
	AnalysisType string
	MAShort      decimal.NullDecimal
	MALong       decimal.NullDecimal
}

// Key returns "ticker:YYYY-MM-DD:type", the uniqueness key of a stored result.
func (a AnalysisResult) Key() string {
	return fmt.Sprintf("%s:%s:%s", a.Ticker, a.AnalysisDate.Format(DateLayout), a.AnalysisType)
}

type analysisPayload struct {
	Ticker       string              `json:"ticker"`
	AnalysisDate string              `json:"analysis_date"`
	MAShort      decimal.NullDecimal `json:"ma_short"`
	MALong       decimal.NullDecimal `json:"ma_long"`
}

// MarshalJSON produces the stored payload:
// {"ticker","analysis_date","ma_short","ma_long"} with null for unfilled windows.
func (a AnalysisResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(analysisPayload{
		Ticker:       a.Ticker,
		AnalysisDate: a.AnalysisDate.Format(DateLayout),
		MAShort:      a.MAShort,
		MALong:       a.MALong,
	})
}

// DecodeAnalysis parses a stored payload back into a result of the given type.
func DecodeAnalysis(analysisType string, payload []byte) (AnalysisResult, error) {
	var p analysisPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return AnalysisResult{}, fmt.Errorf("decode analysis payload: %w", err)
	}
	date, err := time.Parse(DateLayout, p.AnalysisDate)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("decode analysis date: %w", err)
	}
	return AnalysisResult{
		Ticker:       p.Ticker,
		AnalysisDate: date,
		AnalysisType: analysisType,
		MAShort:      p.MAShort,
		MALong:       p.MALong,
	}, nil
}
