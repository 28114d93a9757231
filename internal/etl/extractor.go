package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intradayetl/config"

	"go.uber.org/zap"
)

// Extractor drives the per-ticker bounded-retry fetch loop. Failure
// isolation is per ticker: exhausting retries for one symbol never
// aborts the batch.
type Extractor struct {
	store   Store
	feed    PriceFeed
	advisor DelayAdvisor
	cfg     config.EtlConfig
	logger  *zap.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// NewExtractor wires an extractor with real clock and sleep.
func NewExtractor(store Store, feed PriceFeed, advisor DelayAdvisor, cfg config.EtlConfig, logger *zap.Logger) *Extractor {
	return &Extractor{
		store:   store,
		feed:    feed,
		advisor: advisor,
		cfg:     cfg,
		logger:  logger,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Run streams raw bars for every ticker into out and closes it when the
// batch is done. A fresh call re-derives each start date and re-fetches.
func (e *Extractor) Run(ctx context.Context, tickers []Ticker, out chan<- RawBar) {
	defer close(out) // Ensure downstream consumers can exit cleanly

	for _, t := range tickers {
		e.extractTicker(ctx, t, out)
	}
	e.logger.Info("financial data extraction completed")
}

func (e *Extractor) extractTicker(ctx context.Context, t Ticker, out chan<- RawBar) {
	if !t.Valid() {
		e.logger.Warn("invalid ticker information, skipping",
			zap.Int64("ticker_id", t.ID), zap.String("symbol", t.Symbol))
		return
	}

	start, ok := e.resolveStartDate(ctx, t)
	if !ok {
		return
	}

	for attempt := 1; attempt <= e.cfg.MaxRetryAttempts; attempt++ {
		e.logger.Info("extracting data for ticker",
			zap.String("symbol", t.Symbol),
			zap.Time("start", start),
			zap.Int("attempt", attempt))

		bars, err := e.feed.FetchBars(ctx, t.Symbol, start, e.cfg.DataPeriod, e.cfg.DataInterval)
		if err == nil {
			if len(bars) == 0 {
				e.logger.Warn("no data available for ticker", zap.String("symbol", t.Symbol))
				return
			}
			e.emit(ctx, t, bars, out)
			return
		}

		last := attempt == e.cfg.MaxRetryAttempts

		if errors.Is(err, ErrThrottled) {
			if last {
				e.giveUp(ctx, t, fmt.Sprintf(
					"maximum retry attempts reached for throttled price feed for ticker %s", t.Symbol))
				return
			}
			delay := e.throttleDelay(ctx, attempt)
			e.logger.Warn("price feed throttled, backing off",
				zap.String("symbol", t.Symbol),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			e.sleep(delay)
			continue
		}

		if last {
			e.giveUp(ctx, t, fmt.Sprintf(
				"maximum retry attempts reached for unexpected error during data extraction for ticker %s", t.Symbol))
			return
		}
		e.logger.Error("unexpected error during data extraction, retrying",
			zap.String("symbol", t.Symbol),
			zap.Int("attempt", attempt),
			zap.Error(err))
		e.sleep(e.cfg.DefaultRetryTime)
	}
}

// resolveStartDate finds where extraction should resume for a ticker.
// A store failure here abandons the ticker rather than risking a full
// re-download of its history on a transient hiccup.
func (e *Extractor) resolveStartDate(ctx context.Context, t Ticker) (time.Time, bool) {
	last, err := e.store.LastTimestamp(ctx, t.ID)
	if err != nil {
		e.logger.Error("failed to check latest timestamp for ticker, skipping",
			zap.String("symbol", t.Symbol), zap.Error(err))
		return time.Time{}, false
	}
	if last != nil {
		return last.Truncate(24 * time.Hour), true
	}

	start, err := time.Parse("2006-01-02", e.cfg.DefaultStartDate)
	if err != nil {
		e.logger.Error("invalid default start date, skipping ticker",
			zap.String("default_start_date", e.cfg.DefaultStartDate), zap.Error(err))
		return time.Time{}, false
	}
	return start, true
}

func (e *Extractor) emit(ctx context.Context, t Ticker, bars []Bar, out chan<- RawBar) {
	for _, b := range bars {
		raw := RawBar{
			TickerID: t.ID,
			Start:    b.Timestamp,
			End:      b.Timestamp.Add(time.Hour), // fixed 1h bar width
			Open:     b.Open,
			Close:    b.Close,
			High:     b.High,
			Low:      b.Low,
			Volume:   b.Volume,
		}
		select {
		case out <- raw:
		case <-ctx.Done():
			e.logger.Warn("bar streaming interrupted", zap.Error(ctx.Err()))
			return
		}
	}
	e.logger.Info("data extraction successful for ticker",
		zap.String("symbol", t.Symbol), zap.Int("bars", len(bars)))
}

// throttleDelay asks the advisor for a wait and clamps it to the
// configured bounds. Any advisor failure maps to the default retry time.
func (e *Extractor) throttleDelay(ctx context.Context, attempt int) time.Duration {
	nowLabel := e.now().Format("15:04 MST")
	delay, err := e.advisor.SuggestDelay(ctx, attempt, nowLabel)
	if err != nil || delay <= 0 {
		if err != nil {
			e.logger.Warn("delay advisor failed, using default retry time", zap.Error(err))
		}
		return e.cfg.DefaultRetryTime
	}
	if delay < e.cfg.MinRetryTime {
		return e.cfg.MinRetryTime
	}
	if delay > e.cfg.MaxRetryTime {
		return e.cfg.MaxRetryTime
	}
	return delay
}

func (e *Extractor) giveUp(ctx context.Context, t Ticker, reason string) {
	e.logger.Error("giving up on ticker", zap.String("symbol", t.Symbol), zap.String("reason", reason))
	d := Decision{Type: DecisionRetryExtract, Reason: reason, Status: DecisionPending}
	if err := e.store.AppendDecision(ctx, d); err != nil {
		e.logger.Error("failed to log decision", zap.String("symbol", t.Symbol), zap.Error(err))
	}
}
