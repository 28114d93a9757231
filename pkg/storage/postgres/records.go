package postgres

import "time"

// TickerRow is one tracked symbol. TickerID is the identity used across
// the price table; Symbol is the feed lookup key.
type TickerRow struct {
	TickerID int64  `gorm:"column:ticker_id;primaryKey"`
	Symbol   string `gorm:"column:symbol;type:text;not null;uniqueIndex:idx_tickers_symbol"`
}

// TableName overrides the default table name for GORM.
func (TickerRow) TableName() string {
	return "tickers"
}

// PriceRow is one validated hourly bar persisted for a ticker.
type PriceRow struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	TickerID       int64     `gorm:"column:ticker_id;not null;index:idx_price_ticker_start,unique"`
	StartTimestamp time.Time `gorm:"column:start_timestamp;not null;index:idx_price_ticker_start,unique"`

	EndTimestamp time.Time `gorm:"column:end_timestamp;not null"`

	OpenPrice  float64 `gorm:"column:open_price;type:numeric;not null"`
	ClosePrice float64 `gorm:"column:close_price;type:numeric;not null"`
	HighPrice  float64 `gorm:"column:high_price;type:numeric;not null"`
	LowPrice   float64 `gorm:"column:low_price;type:numeric;not null"`
	Volume     float64 `gorm:"column:volume;type:numeric;not null"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (PriceRow) TableName() string {
	return "intraday_stock_price"
}

// DecisionRow is an append-only audit entry recording an automated
// give-up decision for later human review. Never read back by the job.
type DecisionRow struct {
	ID uint `gorm:"primaryKey"`

	DecisionType   string `gorm:"column:decision_type;type:text;not null"`
	Reason         string `gorm:"column:reason;type:text;not null"`
	DecisionStatus string `gorm:"column:decision_status;type:varchar(32);not null"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (DecisionRow) TableName() string {
	return "decision_log"
}
