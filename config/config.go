package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Etl      EtlConfig      `mapstructure:"etl"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Advisor  AdvisorConfig  `mapstructure:"advisor"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
}

// EtlConfig holds the retry bounds and extraction defaults for a batch run.
type EtlConfig struct {
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"` // per-ticker fetch attempts
	DefaultRetryTime time.Duration `mapstructure:"default_retry_time"`
	MinRetryTime     time.Duration `mapstructure:"min_retry_time"`     // advisor clamp floor
	MaxRetryTime     time.Duration `mapstructure:"max_retry_time"`     // advisor clamp ceiling
	DefaultStartDate string        `mapstructure:"default_start_date"` // YYYY-MM-DD, used when a ticker has no stored bars
	DataInterval     string        `mapstructure:"data_interval"`      // e.g. "1h"
	DataPeriod       string        `mapstructure:"data_period"`        // e.g. "1d"
}

type FeedConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// AdvisorConfig selects the retry-delay strategy.
type AdvisorConfig struct {
	Provider string `mapstructure:"provider"` // "gemini" or "backoff"
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"` // empty disables the scheduler
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., ETL_MAX_RETRY_ATTEMPTS)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("etl.max_retry_attempts", 5)
	v.SetDefault("etl.default_retry_time", "60s")
	v.SetDefault("etl.min_retry_time", "10s")
	v.SetDefault("etl.max_retry_time", "300s")
	v.SetDefault("etl.default_start_date", "2014-11-01")
	v.SetDefault("etl.data_interval", "1h")
	v.SetDefault("etl.data_period", "1d")
	v.SetDefault("feed.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("feed.timeout", "30s")
	v.SetDefault("advisor.provider", "backoff")
	v.SetDefault("smtp.port", 587)
}
