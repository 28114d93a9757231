package etl

import (
	"context"
	"errors"
	"time"
)

// ErrThrottled marks a price feed failure caused by rate limiting.
// Feed implementations wrap it so the extractor can pick the throttle
// retry policy with errors.Is.
var ErrThrottled = errors.New("price feed throttled")

// Ticker identifies one symbol tracked in the store. Identity is ID;
// Symbol is the feed lookup key.
type Ticker struct {
	ID     int64
	Symbol string
}

// Valid reports whether the ticker carries both a symbol and an id.
// Invalid tickers are skipped before touching the feed or the store.
func (t Ticker) Valid() bool {
	return t.ID != 0 && t.Symbol != ""
}

// Bar is a single observation as returned by the price feed. Any price
// or volume field may be missing when the feed omitted it.
type Bar struct {
	Timestamp time.Time
	Open      *float64
	Close     *float64
	High      *float64
	Low       *float64
	Volume    *float64
}

// RawBar is a feed bar attributed to a ticker with the fixed one-hour
// window applied. End is always Start + 1h.
type RawBar struct {
	TickerID int64
	Start    time.Time
	End      time.Time
	Open     *float64
	Close    *float64
	High     *float64
	Low      *float64
	Volume   *float64
}

// Record is a validated RawBar: every field present. Only records may be
// loaded into the store.
type Record struct {
	TickerID int64
	Start    time.Time
	End      time.Time
	Open     float64
	Close    float64
	High     float64
	Low      float64
	Volume   float64
}

// Decision statuses for the audit log.
const (
	DecisionPending   = "Pending"
	DecisionCompleted = "Completed"
)

// DecisionRetryExtract is written when per-ticker fetch retries are exhausted.
const DecisionRetryExtract = "RetryExtractData"

// Decision is an append-only audit entry recording that automated retry
// was abandoned and why.
type Decision struct {
	Type   string
	Reason string
	Status string
}

// Store is the relational persistence contract the pipeline needs.
type Store interface {
	// ListTickers returns all known tickers. It never fails outward: any
	// error yields an empty slice, which the caller treats as nothing to do.
	ListTickers(ctx context.Context) []Ticker

	// LastTimestamp returns the maximum stored end timestamp for a ticker,
	// or nil when no bars are stored yet.
	LastTimestamp(ctx context.Context, tickerID int64) (*time.Time, error)

	// InsertRecord loads one validated record. Duplicate or constraint
	// violations surface as errors.
	InsertRecord(ctx context.Context, rec Record) error

	// AppendDecision writes an audit entry. Best effort; callers log
	// failures and move on.
	AppendDecision(ctx context.Context, d Decision) error
}

// PriceFeed fetches historical bars for a symbol starting at the given
// date. Throttling failures wrap ErrThrottled; anything else is a
// transport failure.
type PriceFeed interface {
	FetchBars(ctx context.Context, symbol string, start time.Time, period, interval string) ([]Bar, error)
}

// DelayAdvisor suggests how long to wait before the next fetch attempt.
// Callers clamp the answer to configured bounds and fall back to a
// default on error.
type DelayAdvisor interface {
	SuggestDelay(ctx context.Context, attempt int, nowLabel string) (time.Duration, error)
}

// Notifier delivers a fatal-failure notification. The boolean reports
// delivery; failures are logged, never retried.
type Notifier interface {
	Notify(subject, body string) bool
}
