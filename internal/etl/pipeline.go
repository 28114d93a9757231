package etl

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Pipeline sequences one batch: list tickers, extract, normalize, load.
// Expected failures are absorbed close to their source; only an
// unanticipated collapse of the whole run reaches the notifier.
type Pipeline struct {
	store     Store
	extractor *Extractor
	notifier  Notifier
	logger    *zap.Logger
}

func NewPipeline(store Store, extractor *Extractor, notifier Notifier, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		extractor: extractor,
		notifier:  notifier,
		logger:    logger,
	}
}

// Run executes one batch. It never lets a panic escape: the failure is
// logged once and a single notification is sent, then the run ends.
func (p *Pipeline) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.fatal(fmt.Errorf("etl run failed: %v", r))
		}
	}()

	tickers := p.store.ListTickers(ctx)
	if len(tickers) == 0 {
		p.logger.Error("no tickers found to process, etl run terminated")
		return
	}
	p.logger.Info("tickers loaded", zap.Int("count", len(tickers)))

	ch := make(chan RawBar, 64)
	collapsed := make(chan any, 1)
	go func() {
		defer close(collapsed)
		defer func() {
			if r := recover(); r != nil {
				collapsed <- r
			}
		}()
		p.extractor.Run(ctx, tickers, ch)
	}()

	var raw []RawBar
	for bar := range ch {
		raw = append(raw, bar)
	}
	// A panic on the extraction goroutine resurfaces here so the
	// deferred recover above sees it.
	if r, ok := <-collapsed; ok {
		panic(r)
	}
	if len(raw) == 0 {
		p.logger.Error("no financial data extracted, etl run terminated")
		return
	}

	records := Normalize(raw, p.logger)
	if len(records) == 0 {
		p.logger.Warn("no valid data to load after cleaning, etl run terminated")
		return
	}

	loaded := 0
	for _, rec := range records {
		if err := p.store.InsertRecord(ctx, rec); err != nil {
			p.logger.Error("failed to load record",
				zap.Int64("ticker_id", rec.TickerID),
				zap.Time("start", rec.Start),
				zap.Error(err))
			continue
		}
		loaded++
	}

	p.logger.Info("data processing and loading completed",
		zap.Int("extracted", len(raw)),
		zap.Int("normalized", len(records)),
		zap.Int("loaded", loaded))
}

func (p *Pipeline) fatal(err error) {
	p.logger.Error("an error occurred during the etl run", zap.Error(err))
	if ok := p.notifier.Notify("ETL Process Failed",
		fmt.Sprintf("An error occurred during the ETL process: %v", err)); !ok {
		p.logger.Error("failed to send failure notification")
	}
}
