// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/lease-billing/billing"
	"github.com/warp/lease-billing/logger"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	// HTTP
	HTTPPort int

	// Storage
	StoreDriver string
	SQLitePath  string
	DatabaseURL string

	// Events; no brokers means events are only logged
	KafkaBrokers []string
	KafkaTopic   string

	// Billing
	BusinessTimezone        string
	DefaultDailyPenaltyRate string
	MaxAmount               string
	SweepInterval           time.Duration

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// malformed numeric or duration variables, reported by Validate
	parseErrs []error
}

// Load reads the environment. envFile, if it exists, is loaded first;
// variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var parseErrs []error
	cfg := &Config{
		HTTPPort:                getEnvInt("HTTP_PORT", 8080, &parseErrs),
		StoreDriver:             getEnv("STORE_DRIVER", DriverSQLite),
		SQLitePath:              getEnv("SQLITE_PATH", "billing.db"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		KafkaBrokers:            getEnvList("KAFKA_BROKERS"),
		KafkaTopic:              getEnv("KAFKA_TOPIC", "billing-events"),
		BusinessTimezone:        getEnv("BUSINESS_TIMEZONE", "UTC"),
		DefaultDailyPenaltyRate: getEnv("DEFAULT_DAILY_PENALTY_RATE", "5.00"),
		MaxAmount:               getEnv("MAX_AMOUNT", "1000000"),
		SweepInterval:           getEnvDuration("SWEEP_INTERVAL", time.Hour, &parseErrs),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "console"),
		LogOutput:               getEnv("LOG_OUTPUT", "stdout"),
		parseErrs:               parseErrs,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := errors.Join(c.parseErrs...); err != nil {
		return err
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of memory, sqlite, postgres", c.StoreDriver)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d is out of range", c.HTTPPort)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Limits(); err != nil {
		return err
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative")
	}
	return nil
}

// Location resolves the business timezone used to decide "today".
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	return loc, nil
}

// Limits parses the engine's amount limits.
func (c *Config) Limits() (billing.Limits, error) {
	rate, err := billing.ParseMoney(c.DefaultDailyPenaltyRate)
	if err != nil {
		return billing.Limits{}, fmt.Errorf("DEFAULT_DAILY_PENALTY_RATE: %w", err)
	}
	if rate.IsNegative() {
		return billing.Limits{}, fmt.Errorf("DEFAULT_DAILY_PENALTY_RATE must not be negative")
	}
	maxAmount, err := billing.ParseMoney(c.MaxAmount)
	if err != nil {
		return billing.Limits{}, fmt.Errorf("MAX_AMOUNT: %w", err)
	}
	if !maxAmount.IsPositive() {
		return billing.Limits{}, fmt.Errorf("MAX_AMOUNT must be positive")
	}
	return billing.Limits{MaxAmount: maxAmount, DefaultDailyPenaltyRate: rate}, nil
}

// LoggerConfig returns the logger configuration.
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Format = c.LogFormat
	cfg.Output = c.LogOutput
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not a duration (e.g. 30m, 1h)", key, value))
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
