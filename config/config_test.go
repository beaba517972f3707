package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-billing/billing"
)

var configKeys = []string{
	"HTTP_PORT", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"BUSINESS_TIMEZONE", "DEFAULT_DAILY_PENALTY_RATE", "MAX_AMOUNT", "SWEEP_INTERVAL",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_OUTPUT",
}

// clearEnv blanks every key so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "billing.db", cfg.SQLitePath)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "billing-events", cfg.KafkaTopic)
	assert.Equal(t, time.Hour, cfg.SweepInterval)

	limits, err := cfg.Limits()
	require.NoError(t, err)
	assert.True(t, limits.DefaultDailyPenaltyRate.Equal(billing.MustMoney("5")))
	assert.True(t, limits.MaxAmount.Equal(billing.MustMoney("1000000")))

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://billing@localhost/billing")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SWEEP_INTERVAL", "15m")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "json", cfg.LoggerConfig().Format)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STORE_DRIVER=memory\nHTTP_PORT=9090\n"), 0o600))
	// godotenv never overrides a variable that is already set, even to ""
	require.NoError(t, os.Unsetenv("STORE_DRIVER"))
	require.NoError(t, os.Unsetenv("HTTP_PORT"))
	t.Cleanup(func() {
		os.Unsetenv("STORE_DRIVER")
		os.Unsetenv("HTTP_PORT")
	})

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 9090, cfg.HTTPPort)
}

func TestLoad_MalformedNumbers(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"port", "HTTP_PORT", "abc", `HTTP_PORT "abc" is not an integer`},
		{"sweep interval", "SWEEP_INTERVAL", "hourly", `SWEEP_INTERVAL "hourly" is not a duration`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))

	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:                8080,
			StoreDriver:             DriverMemory,
			BusinessTimezone:        "UTC",
			DefaultDailyPenaltyRate: "5",
			MaxAmount:               "1000",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }},
		{"sqlite without path", func(c *Config) { c.StoreDriver = DriverSQLite }},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }},
		{"port out of range", func(c *Config) { c.HTTPPort = 70000 }},
		{"bad timezone", func(c *Config) { c.BusinessTimezone = "Mars/Olympus" }},
		{"bad rate", func(c *Config) { c.DefaultDailyPenaltyRate = "five" }},
		{"negative rate", func(c *Config) { c.DefaultDailyPenaltyRate = "-1" }},
		{"zero max amount", func(c *Config) { c.MaxAmount = "0" }},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
