// Package config reads the server configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the complete server configuration.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Storage: PostgreSQL when DatabaseURL is set, else SQLite when
	// SQLitePath is set, else in-memory.
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	// RedisURL enables the read-through cache for list and history queries.
	RedisURL string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// CatalogPath points at a JSON catalog; empty uses the embedded default.
	CatalogPath string `env:"CATALOG_PATH"`

	LedgerMaxAttempts    int   `env:"LEDGER_MAX_ATTEMPTS" envDefault:"5"`
	MaxPositionPerTicker int64 `env:"MAX_POSITION_PER_TICKER" envDefault:"0"`
	MaxDailyTradeVolume  int64 `env:"MAX_DAILY_TRADE_VOLUME" envDefault:"0"`

	MarketStatsInterval time.Duration `env:"MARKET_STATS_INTERVAL" envDefault:"1m"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	SeedInstruments bool   `env:"SEED_INSTRUMENTS" envDefault:"true"`
}

// Load reads envFiles (missing files are skipped) into the process
// environment without overriding variables already set, then parses Config.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.LedgerMaxAttempts < 1 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1, got %d", c.LedgerMaxAttempts)
	}
	if c.MarketStatsInterval <= 0 {
		return fmt.Errorf("MARKET_STATS_INTERVAL must be positive, got %s", c.MarketStatsInterval)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level maps LOG_LEVEL to a slog level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// StoreKind names the storage backend selected by the configuration.
func (c *Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	}
	return "memory"
}
