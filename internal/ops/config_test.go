package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"fatfinger/pkg/exception"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsResolve(t *testing.T) {
	loaded, err := Default().Resolve()
	require.NoError(t, err)

	assert.Equal(t, 15.0, loaded.Order.DiscountPercent)
	assert.Equal(t, "100", loaded.Order.MaxPositionSize.String())
	assert.Equal(t, 3, loaded.Order.MaxRetries)
	assert.Equal(t, 30*time.Minute, loaded.Order.OrderTimeout)
	assert.Len(t, loaded.Order.TierPlan, 3)
	assert.Equal(t, 8, loaded.Order.Concurrency)
	assert.Equal(t, 8, loaded.Scanner.Concurrency)
	assert.Equal(t, 60, loaded.Scanner.WindowSize)
	assert.Equal(t, 1, loaded.Driver.MaxCandidates)
	assert.Equal(t, 2.0, loaded.Driver.HighVolatilityMultiplier)
	assert.Equal(t, 100, loaded.Alert.HistorySize)
	assert.Equal(t, StoragePebble, loaded.Storage.Driver)
	assert.Equal(t, 0.01, loaded.Simulator.FatFingerRate)
	assert.False(t, loaded.Chaos.Enabled())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
exchange:
  seed: 42
scanner:
  min_volatility: 3
  window_size: 30
  stale_after: 2m
  symbols: [BTC/USDT, ETH/USDT]
  max_candidates: 2
order:
  discount_percentage: 20
  max_position_size: 250.5
  order_timeout: 10m
  tier_plan:
    - {fraction: 0.6, profit_percent: 4}
    - {fraction: 0.4, profit_percent: 8}
driver:
  cycle_interval: 500ms
  concurrency: 2
storage:
  driver: NONE
chaos:
  error_rate: 0.1
  max_delay: 20ms
`)
	loaded, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 3.0, loaded.Scanner.MinVolatility)
	assert.Equal(t, 30, loaded.Scanner.WindowSize)
	assert.Equal(t, 2*time.Minute, loaded.Scanner.StaleAfter)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, loaded.Scanner.Symbols)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, loaded.Simulator.Symbols)
	assert.Equal(t, int64(42), loaded.Simulator.Seed)
	assert.Equal(t, 20.0, loaded.Order.DiscountPercent)
	assert.Equal(t, "250.5", loaded.Order.MaxPositionSize.String())
	assert.Equal(t, 10*time.Minute, loaded.Order.OrderTimeout)
	require.Len(t, loaded.Order.TierPlan, 2)
	assert.Equal(t, 8.0, loaded.Order.TierPlan[1].ProfitPercent)
	assert.Equal(t, 500*time.Millisecond, loaded.Driver.CycleInterval)
	assert.Equal(t, 2, loaded.Driver.MaxCandidates)
	assert.Equal(t, 2, loaded.Order.Concurrency)
	assert.Equal(t, StorageNone, loaded.Storage.Driver)
	assert.True(t, loaded.Chaos.Enabled())
	assert.Equal(t, 20*time.Millisecond, loaded.Chaos.MaxDelay)

	// untouched sections keep their defaults
	assert.Equal(t, 5, loaded.Order.MaxConcurrentPositions)
	assert.Equal(t, ":8080", loaded.API.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	env := writeFile(t, ".env", "FATFINGER_API_KEY=key-from-file\n")
	t.Setenv(EnvAPIKey, "restored-after-test")
	require.NoError(t, os.Unsetenv(EnvAPIKey))
	t.Setenv(EnvPGDSN, "postgres://u@db/fatfinger")
	path := writeFile(t, "config.yaml", "storage:\n  driver: postgres\n")

	loaded, err := Load(path, env)
	require.NoError(t, err)
	assert.Equal(t, "key-from-file", loaded.Exchange.APIKey)
	assert.Equal(t, "postgres://u@db/fatfinger", loaded.Storage.DSN)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvAPIKey: "k", EnvAPISecret: "s"}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "k", cfg.Exchange.APIKey)
	assert.Equal(t, "s", cfg.Exchange.APISecret)
	assert.Empty(t, cfg.Storage.DSN)
}

func TestValidateRejects(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*FileConfig)
	}{
		{"exchange", func(c *FileConfig) { c.Exchange.Name = "binance" }},
		{"window", func(c *FileConfig) { c.Scanner.WindowSize = 1 }},
		{"stale", func(c *FileConfig) { c.Scanner.StaleAfter = 0 }},
		{"discount", func(c *FileConfig) { c.Order.DiscountPercentage = 100 }},
		{"position size", func(c *FileConfig) { c.Order.MaxPositionSize = 0 }},
		{"concurrent", func(c *FileConfig) { c.Order.MaxConcurrentPositions = 0 }},
		{"timeout", func(c *FileConfig) { c.Order.OrderTimeout = 0 }},
		{"retries", func(c *FileConfig) { c.Order.MaxRetries = -1 }},
		{"tier sum", func(c *FileConfig) { c.Order.TierPlan[0].Fraction = 0.4 }},
		{"tier empty", func(c *FileConfig) { c.Order.TierPlan = nil }},
		{"interval", func(c *FileConfig) { c.Driver.CycleInterval = 0 }},
		{"storage driver", func(c *FileConfig) { c.Storage.Driver = "redis" }},
		{"postgres dsn", func(c *FileConfig) { c.Storage.Driver = StoragePostgres }},
		{"log level", func(c *FileConfig) { c.Log.Level = "loud" }},
		{"chaos", func(c *FileConfig) { c.Chaos.ErrorRate = 2 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			_, err := cfg.Resolve()
			assert.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "scanner: [1, 2\n")
	_, err = Load(path, "")
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}

func TestNewLoggerWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "fatfinger.log")
	log, err := NewLogger("debug", file)
	require.NoError(t, err)
	log.Debug("hello")
	_ = log.Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"level":"DEBUG"`)

	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}
