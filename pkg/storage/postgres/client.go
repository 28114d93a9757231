package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresClient struct {
	DB *gorm.DB
}

func NewClient(dsn string) (*PostgresClient, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresClient{DB: db}, nil
}

func (p *PostgresClient) IsHealthy(ctx context.Context) bool {
	db, err := p.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (p *PostgresClient) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}

// connectBackOff keeps the two transient-failure policies apart:
// a timeout retries after a fixed second (congestion usually clears
// fast), any other error backs off 2^attempt seconds. It stops once the
// attempt budget is spent.
type connectBackOff struct {
	attempt     int
	maxAttempts int
	lastTimeout bool
}

func (b *connectBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.maxAttempts {
		return backoff.Stop
	}
	if b.lastTimeout {
		return time.Second
	}
	return time.Duration(1<<uint(b.attempt-1)) * time.Second
}

func (b *connectBackOff) Reset() {
	b.attempt = 0
}

// ConnectWithRetry opens a connection, retrying up to maxAttempts with
// the dual-policy backoff above.
func ConnectWithRetry(dsn string, maxAttempts int, logger *zap.Logger) (*PostgresClient, error) {
	bo := &connectBackOff{maxAttempts: maxAttempts}

	var client *PostgresClient
	op := func() error {
		c, err := NewClient(dsn)
		if err != nil {
			bo.lastTimeout = isTimeout(err)
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database connection failed, retrying",
			zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxAttempts, err)
	}
	return client, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
