package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockvision/internal/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo implements Source using the Yahoo Finance chart API.
type Yahoo struct {
	Client    *http.Client
	BaseURL   string
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahoo creates a Yahoo source, optionally through an HTTP proxy.
func NewYahoo(proxyURL string, timeout time.Duration) *Yahoo {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Yahoo{
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		BaseURL: yahooBaseURL,
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
		},
	}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) yahooSymbol(symbol string) string {
	if mapped, ok := y.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				GMTOffset          int     `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(vals []*float64, i int) (float64, bool) {
	if i >= len(vals) || vals[i] == nil {
		return 0, false
	}
	return *vals[i], true
}

// Snapshot fetches the last five daily bars and returns the newest one that
// has a close. The observation time is the exchange's regular market time
// in its own UTC offset, so the trading date matches the exchange calendar.
func (y *Yahoo) Snapshot(ctx context.Context, ticker string) (model.PriceSnapshot, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=5d",
		strings.TrimRight(y.BaseURL, "/"), url.PathEscape(y.yahooSymbol(ticker)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.PriceSnapshot{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.Client.Do(req)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("yahoo fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.PriceSnapshot{}, fmt.Errorf("%w: yahoo: unknown symbol %s", model.ErrNoData, ticker)
	}
	if resp.StatusCode != http.StatusOK {
		return model.PriceSnapshot{}, fmt.Errorf("yahoo: status %d, body: %.200s", resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("yahoo decode: %w", err)
	}
	if chart.Chart.Error != nil {
		return model.PriceSnapshot{}, fmt.Errorf("%w: yahoo api error: %s", model.ErrNoData, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 ||
		len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return model.PriceSnapshot{}, fmt.Errorf("%w: yahoo returned no bars for %s", model.ErrNoData, ticker)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	loc := time.FixedZone("exchange", result.Meta.GMTOffset)

	// Walk back to the newest bar with a close (today's bar can be null pre-open).
	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		c, ok := at(quote.Close, i)
		if !ok {
			continue
		}
		o, _ := at(quote.Open, i)
		h, _ := at(quote.High, i)
		l, _ := at(quote.Low, i)
		v, _ := at(quote.Volume, i)

		observed := time.Unix(result.Timestamp[i], 0).In(loc)
		if i == len(result.Timestamp)-1 && result.Meta.RegularMarketTime > 0 {
			observed = time.Unix(result.Meta.RegularMarketTime, 0).In(loc)
		}

		return model.PriceSnapshot{
			Ticker:     ticker,
			Open:       decimal.NewFromFloat(o),
			High:       decimal.NewFromFloat(h),
			Low:        decimal.NewFromFloat(l),
			Close:      decimal.NewFromFloat(c),
			Volume:     int64(v),
			ObservedAt: observed,
		}, nil
	}
	return model.PriceSnapshot{}, fmt.Errorf("%w: yahoo returned only empty bars for %s", model.ErrNoData, ticker)
}
