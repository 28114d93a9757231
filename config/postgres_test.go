package config

import (
	"strings"
	"testing"
	"time"
)

func TestPostgresDSN(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "localhost",
		Port:           5432,
		User:           "etl",
		Password:       "secret",
		DBName:         "intraday",
		SSLMode:        "disable",
		TimeZone:       "UTC",
		ConnectTimeout: 60 * time.Second,
	}

	dsn := cfg.DSN("local")

	for _, want := range []string{
		"host=localhost",
		"port=5432",
		"user=etl",
		"dbname=intraday",
		"sslmode=disable",
		"TimeZone=UTC",
		"connect_timeout=60",
	} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestPostgresDSNOmitsOptionalFields(t *testing.T) {
	cfg := &PostgresConfig{
		Host:    "localhost",
		Port:    5432,
		User:    "etl",
		DBName:  "intraday",
		SSLMode: "disable",
	}

	dsn := cfg.DSN("local")

	if strings.Contains(dsn, "TimeZone") {
		t.Errorf("dsn %q must not carry an empty TimeZone", dsn)
	}
	if strings.Contains(dsn, "connect_timeout") {
		t.Errorf("dsn %q must not carry a zero connect_timeout", dsn)
	}
}
