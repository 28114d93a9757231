package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"intradayetl/config"
	"intradayetl/internal/etl"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// Store implements etl.Store on Postgres. Every operation opens its own
// connection and closes it when done: the job's call volume is low and
// batch-shaped, so bounded resource usage wins over pooling.
type Store struct {
	dsn         string
	maxAttempts int
	logger      *zap.Logger
}

// NewStore builds a store for the given environment. It bootstraps the
// database (when createDB is set) and runs migrations once up front.
func NewStore(cfg config.PostgresConfig, env string, maxAttempts int, createDB bool, logger *zap.Logger) (*Store, error) {
	if createDB {
		if err := CreateDatabase(cfg); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	s := &Store{
		dsn:         cfg.DSN(env),
		maxAttempts: maxAttempts,
		logger:      logger,
	}

	client, err := s.open()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.DB.AutoMigrate(&TickerRow{}, &PriceRow{}, &DecisionRow{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

func (s *Store) open() (*PostgresClient, error) {
	return ConnectWithRetry(s.dsn, s.maxAttempts, s.logger)
}

// ListTickers returns all tracked tickers. Any failure is logged and
// yields an empty slice, which callers treat as nothing to do.
func (s *Store) ListTickers(ctx context.Context) []etl.Ticker {
	client, err := s.open()
	if err != nil {
		s.logger.Error("failed to connect while loading tickers", zap.Error(err))
		return nil
	}
	defer client.Close()

	var rows []TickerRow
	if err := client.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		s.logger.Error("failed to load tickers", zap.Error(err))
		return nil
	}

	tickers := make([]etl.Ticker, 0, len(rows))
	for _, r := range rows {
		tickers = append(tickers, etl.Ticker{ID: r.TickerID, Symbol: r.Symbol})
	}
	return tickers
}

// LastTimestamp returns the maximum stored end timestamp for a ticker,
// or nil when the ticker has no bars yet.
func (s *Store) LastTimestamp(ctx context.Context, tickerID int64) (*time.Time, error) {
	client, err := s.open()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var last sql.NullTime
	err = client.DB.WithContext(ctx).
		Model(&PriceRow{}).
		Where("ticker_id = ?", tickerID).
		Select("MAX(end_timestamp)").
		Scan(&last).Error
	if err != nil {
		return nil, fmt.Errorf("query last timestamp for ticker %d: %w", tickerID, err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// InsertRecord loads one validated bar. Re-inserting an already stored
// hour reports a duplicate error instead of silently succeeding.
func (s *Store) InsertRecord(ctx context.Context, rec etl.Record) error {
	client, err := s.open()
	if err != nil {
		return err
	}
	defer client.Close()

	row := PriceRow{
		TickerID:       rec.TickerID,
		StartTimestamp: rec.Start,
		EndTimestamp:   rec.End,
		OpenPrice:      rec.Open,
		ClosePrice:     rec.Close,
		HighPrice:      rec.High,
		LowPrice:       rec.Low,
		Volume:         rec.Volume,
	}

	tx := client.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "ticker_id"},
			{Name: "start_timestamp"},
		},
		DoNothing: true,
	}).Create(&row)

	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return fmt.Errorf(
			"duplicate bar skipped: ticker_id=%d start=%s",
			rec.TickerID,
			rec.Start.Format(time.RFC3339),
		)
	}

	return nil
}

// AppendDecision writes one audit entry.
func (s *Store) AppendDecision(ctx context.Context, d etl.Decision) error {
	client, err := s.open()
	if err != nil {
		return err
	}
	defer client.Close()

	status := d.Status
	if status == "" {
		status = etl.DecisionPending
	}
	row := DecisionRow{
		DecisionType:   d.Type,
		Reason:         d.Reason,
		DecisionStatus: status,
	}
	if err := client.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	s.logger.Info("decision logged",
		zap.String("type", d.Type), zap.String("status", status))
	return nil
}
