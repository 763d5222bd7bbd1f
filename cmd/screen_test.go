package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screener-cli/internal/config"
)

func newScreenFlagSet() *cobra.Command {
	cmd := &cobra.Command{Use: "screen"}
	f := cmd.Flags()
	f.String("index", "", "")
	f.Float64("threshold", 0, "")
	f.String("mode", "", "")
	f.String("currency", "", "")
	f.String("factors", "", "")
	return cmd
}

func baseConfig() *config.Config {
	return &config.Config{
		MarketData: config.MarketDataConfig{Key: "k", Mode: "live"},
		Screen: config.ScreenConfig{
			Index:        "UKX",
			ThresholdPct: 0.8,
			Currency:     "GBP",
		},
	}
}

func TestApplyScreenOverrides(t *testing.T) {
	t.Parallel()

	cmd := newScreenFlagSet()
	require.NoError(t, cmd.Flags().Set("index", "SPX"))
	require.NoError(t, cmd.Flags().Set("threshold", "0.5"))
	require.NoError(t, cmd.Flags().Set("mode", "cached"))
	require.NoError(t, cmd.Flags().Set("currency", "USD"))

	c := baseConfig()
	applyScreenOverrides(cmd, c)

	assert.Equal(t, "SPX", c.Screen.Index)
	assert.InDelta(t, 0.5, c.Screen.ThresholdPct, 1e-9)
	assert.Equal(t, "cached", c.MarketData.Mode)
	assert.Equal(t, "USD", c.Screen.Currency)
}

func TestApplyScreenOverrides_UnsetFlagsKeepConfig(t *testing.T) {
	t.Parallel()

	cmd := newScreenFlagSet()
	c := baseConfig()
	applyScreenOverrides(cmd, c)

	assert.Equal(t, "UKX", c.Screen.Index)
	assert.InDelta(t, 0.8, c.Screen.ThresholdPct, 1e-9)
	assert.Equal(t, "live", c.MarketData.Mode)
}

func TestScreenParams_Defaults(t *testing.T) {
	t.Parallel()

	params, err := screenParams(baseConfig())
	require.NoError(t, err)

	assert.Equal(t, "UKX", params.Index)
	assert.InDelta(t, 0.8, params.ThresholdPct, 1e-9)
	assert.Equal(t, "live", params.Mode)
	require.Len(t, params.Factors, 3)
	assert.Equal(t, "AVE_ROE_2Y", params.Factors[0].Name)
	assert.Equal(t, "PX_BOOK_VALUE", params.Factors[1].Name)
	assert.Equal(t, "CASH_PER_ASSET", params.Factors[2].Name)
}

func TestScreenParams_DefinitionsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "factors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
screen:
  threshold_pct: 0.6
  currency: GBP
  factors:
    - kind: price_to_book
    - kind: cash_per_asset
`), 0o644))

	c := baseConfig()
	c.Screen.Definitions = path

	params, err := screenParams(c)
	require.NoError(t, err)

	// The definitions file threshold wins over the config default.
	assert.InDelta(t, 0.6, params.ThresholdPct, 1e-9)
	require.Len(t, params.Factors, 2)
	assert.Equal(t, "PX_BOOK_VALUE", params.Factors[0].Name)
}

func TestScreenParams_BadDefinitionsFile(t *testing.T) {
	t.Parallel()

	c := baseConfig()
	c.Screen.Definitions = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := screenParams(c)
	assert.Error(t, err)
}
