package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"intradayetl/config"
	"intradayetl/internal/etl"
)

// Client fetches historical bars from the Yahoo Finance v8 chart API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewClient(cfg config.FeedConfig) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// FetchBars retrieves bars for symbol covering one period window from
// start. A rate-limited response wraps etl.ErrThrottled so callers can
// pick the throttle retry policy; every other failure is transport.
func (c *Client) FetchBars(ctx context.Context, symbol string, start time.Time, period, interval string) ([]etl.Bar, error) {
	end := start.Add(periodWindow(period))
	if now := time.Now(); end.After(now) {
		end = now
	}

	endpoint := fmt.Sprintf(
		"%s/v8/finance/chart/%s?interval=%s&period1=%d&period2=%d",
		c.baseURL,
		url.PathEscape(symbol),
		url.QueryEscape(interval),
		start.Unix(),
		end.Unix(),
	)

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("yahoo rate limit for %s: %w", symbol, etl.ErrThrottled)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("yahoo error: status %d, body: %s", resp.StatusCode, body)
	}

	var raw chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo api error: %s", raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 {
		return nil, nil
	}

	return parseChart(raw.Chart.Result[0]), nil
}

// parseChart converts one chart result into bars, keeping missing quote
// values as nil so the normalizer can filter them.
func parseChart(result chartResult) []etl.Bar {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]etl.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		bars = append(bars, etl.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      at(quote.Open, i),
			High:      at(quote.High, i),
			Low:       at(quote.Low, i),
			Close:     at(quote.Close, i),
			Volume:    at(quote.Volume, i),
		})
	}
	return bars
}

func at(vals []*float64, i int) *float64 {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}

// periodWindow maps a yfinance-style period label to a fetch window.
func periodWindow(period string) time.Duration {
	switch period {
	case "5d":
		return 5 * 24 * time.Hour
	case "1mo":
		return 30 * 24 * time.Hour
	case "3mo":
		return 90 * 24 * time.Hour
	case "6mo":
		return 180 * 24 * time.Hour
	case "1y":
		return 365 * 24 * time.Hour
	default: // "1d"
		return 24 * time.Hour
	}
}
