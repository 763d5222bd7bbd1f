package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "UKX", cfg.Screen.Index)
	assert.InDelta(t, 0.80, cfg.Screen.ThresholdPct, 1e-9)
	assert.Equal(t, "GBP", cfg.Screen.Currency)
	assert.Equal(t, "live", cfg.MarketData.Mode)
	assert.Equal(t, 100, cfg.MarketData.BatchSize)
	assert.Equal(t, 4, cfg.MarketData.MaxConcurrent)
	assert.Equal(t, 3, cfg.MarketData.RetryMaxAttempts)
	assert.Equal(t, 500, cfg.MarketData.RetryBackoffMs)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
screen:
  index: SPX
  threshold_pct: 0.9
  currency: USD
marketdata:
  key: file-key
  mode: cached
store:
  driver: sqlite
  sqlite_path: runs.db
log:
  level: debug
  format: console
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "SPX", cfg.Screen.Index)
	assert.InDelta(t, 0.9, cfg.Screen.ThresholdPct, 1e-9)
	assert.Equal(t, "USD", cfg.Screen.Currency)
	assert.Equal(t, "file-key", cfg.MarketData.Key)
	assert.Equal(t, "cached", cfg.MarketData.Mode)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "runs.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCREENER_MARKETDATA_KEY", "env-key")
	t.Setenv("SCREENER_SCREEN_INDEX", "NDX")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.MarketData.Key)
	assert.Equal(t, "NDX", cfg.Screen.Index)
}

func TestValidate_Screen(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		MarketData: MarketDataConfig{Key: "k", Mode: "live"},
		Screen:     ScreenConfig{Index: "UKX", ThresholdPct: 0.8},
	}
	require.NoError(t, cfg.Validate("screen"))

	missingKey := *cfg
	missingKey.MarketData.Key = ""
	assert.Error(t, missingKey.Validate("screen"))

	badThreshold := *cfg
	badThreshold.Screen.ThresholdPct = 1.2
	assert.Error(t, badThreshold.Validate("screen"))

	noIndex := *cfg
	noIndex.Screen.Index = ""
	assert.Error(t, noIndex.Validate("screen"))

	badMode := *cfg
	badMode.MarketData.Mode = "turbo"
	assert.Error(t, badMode.Validate("screen"))
}

func TestValidate_Store(t *testing.T) {
	t.Parallel()

	pg := &Config{Store: StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/screener"}}
	require.NoError(t, pg.Validate("store"))

	pgNoURL := &Config{Store: StoreConfig{Driver: "postgres"}}
	assert.Error(t, pgNoURL.Validate("store"))

	lite := &Config{Store: StoreConfig{Driver: "sqlite", SQLitePath: "x.db"}}
	require.NoError(t, lite.Validate("store"))

	liteNoPath := &Config{Store: StoreConfig{Driver: "sqlite"}}
	assert.Error(t, liteNoPath.Validate("store"))

	unknown := &Config{Store: StoreConfig{Driver: "oracle"}}
	assert.Error(t, unknown.Validate("store"))
}

func TestValidate_UnknownScope(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Error(t, cfg.Validate("telemetry"))
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "verbose", Format: "json"}))
}
