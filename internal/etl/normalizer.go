package etl

import "go.uber.org/zap"

// Normalize filters raw bars down to loadable records. A bar passes iff
// every price and volume field is present. Dropped bars are logged, not
// corrected. Order is preserved.
func Normalize(bars []RawBar, logger *zap.Logger) []Record {
	records := make([]Record, 0, len(bars))
	for _, b := range bars {
		if b.Open == nil || b.Close == nil || b.High == nil || b.Low == nil || b.Volume == nil {
			logger.Warn("incomplete bar excluded",
				zap.Int64("ticker_id", b.TickerID),
				zap.Time("start", b.Start))
			continue
		}
		records = append(records, Record{
			TickerID: b.TickerID,
			Start:    b.Start,
			End:      b.End,
			Open:     *b.Open,
			Close:    *b.Close,
			High:     *b.High,
			Low:      *b.Low,
			Volume:   *b.Volume,
		})
	}
	return records
}
