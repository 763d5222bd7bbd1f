package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/screener-cli/internal/config"
	"github.com/sells-group/screener-cli/internal/export"
	"github.com/sells-group/screener-cli/internal/factor"
	"github.com/sells-group/screener-cli/internal/resilience"
	"github.com/sells-group/screener-cli/internal/screen"
	"github.com/sells-group/screener-cli/internal/store"
	"github.com/sells-group/screener-cli/pkg/marketdata"
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Run a value screen over an index universe",
	Long: `Screen an equity index by ranking its members on three value factors
and keeping only members inside the threshold percentile on every factor.

Factors (in output column order):
  AVE_ROE_2Y      2-year average return on common equity
  PX_BOOK_VALUE   last price / book value per share (LTM)
  CASH_PER_ASSET  operating cash flow (LTM) / total assets (LTM)

Members are ranked per factor by standardized value (rank 1 = lowest) and
kept only when their rank is within floor(threshold * N) on all three.

Examples:
  # Screen the FTSE 100 with the default 80% threshold
  screen --index UKX

  # Keep only the top half, use the service's cached values
  screen --index SPX --threshold 0.5 --mode cached

  # Export to a spreadsheet and persist the run
  screen --index UKX --format xlsx --output screen.xlsx --save

  # Use a custom screen definition file
  screen --factors factors.yaml`,
	RunE: runScreen,
}

func init() {
	f := screenCmd.Flags()
	f.String("index", "", "index universe to screen (overrides config)")
	f.Float64("threshold", 0, "percentile threshold in (0,1] (overrides config)")
	f.String("mode", "", "execution mode: live or cached (overrides config)")
	f.String("currency", "", "price currency for the price/book factor (overrides config)")
	f.String("factors", "", "screen definition YAML (overrides built-in factors)")
	f.String("output", "", "output file path (default: stdout)")
	f.String("format", "table", "output format: table, csv, or xlsx")
	f.Bool("save", false, "persist the run to the configured store")

	rootCmd.AddCommand(screenCmd)
}

func runScreen(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyScreenOverrides(cmd, cfg)
	if err := cfg.Validate("screen"); err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	save, _ := cmd.Flags().GetBool("save")
	switch format {
	case export.FormatTable, export.FormatCSV, export.FormatXLSX:
	default:
		return eris.Errorf("screen: --format must be table, csv, or xlsx (got %q)", format)
	}

	params, err := screenParams(cfg)
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "screen"))
	log.Info("starting screen",
		zap.String("index", params.Index),
		zap.Float64("threshold", params.ThresholdPct),
		zap.String("mode", params.Mode),
	)

	client := newMarketDataClient(cfg.MarketData)
	res, err := screen.New(client).Run(ctx, params)
	if err != nil {
		return eris.Wrap(err, "screen: run")
	}

	if err := outputResult(res, format, outputPath); err != nil {
		return err
	}

	if save {
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "screen: open store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		id, err := st.SaveRun(ctx, res)
		if err != nil {
			return eris.Wrap(err, "screen: save run")
		}
		fmt.Printf("Run saved as %s\n", id)
	}

	printScreenSummary(res)
	return nil
}

// applyScreenOverrides copies set CLI flags over the loaded config.
func applyScreenOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("index"); v != "" {
		cfg.Screen.Index = v
	}
	if cmd.Flags().Changed("threshold") {
		v, _ := cmd.Flags().GetFloat64("threshold")
		cfg.Screen.ThresholdPct = v
	}
	if v, _ := cmd.Flags().GetString("mode"); v != "" {
		cfg.MarketData.Mode = v
	}
	if v, _ := cmd.Flags().GetString("currency"); v != "" {
		cfg.Screen.Currency = v
	}
	if v, _ := cmd.Flags().GetString("factors"); v != "" {
		cfg.Screen.Definitions = v
	}
}

// screenParams resolves run parameters from config, loading a screen
// definition file when one is configured.
func screenParams(cfg *config.Config) (screen.Params, error) {
	params := screen.Params{
		Index:        cfg.Screen.Index,
		ThresholdPct: cfg.Screen.ThresholdPct,
		Mode:         cfg.MarketData.Mode,
	}

	if cfg.Screen.Definitions != "" {
		defs, err := factor.LoadDefinitions(cfg.Screen.Definitions)
		if err != nil {
			return params, err
		}
		factors, err := defs.Build()
		if err != nil {
			return params, err
		}
		params.Factors = factors
		if defs.ThresholdPct > 0 {
			params.ThresholdPct = defs.ThresholdPct
		}
		return params, nil
	}

	params.Factors = factor.Defaults(cfg.Screen.Currency)
	return params, nil
}

// newMarketDataClient builds the API client from config.
func newMarketDataClient(mc config.MarketDataConfig) marketdata.Client {
	opts := []marketdata.Option{
		marketdata.WithBatchSize(mc.BatchSize),
		marketdata.WithMaxConcurrent(mc.MaxConcurrent),
		marketdata.WithRetryConfig(resilience.FromConfig(mc.RetryMaxAttempts, mc.RetryBackoffMs)),
	}
	if mc.BaseURL != "" {
		opts = append(opts, marketdata.WithBaseURL(mc.BaseURL))
	}
	if mc.RateLimitRPS > 0 {
		opts = append(opts, marketdata.WithRateLimit(mc.RateLimitRPS))
	}
	if mc.TimeoutSecs > 0 {
		opts = append(opts, marketdata.WithHTTPClient(&http.Client{
			Timeout: time.Duration(mc.TimeoutSecs) * time.Second,
		}))
	}
	return marketdata.NewClient(mc.Key, opts...)
}

func outputResult(res *screen.Result, format, outputPath string) error {
	var w *os.File
	if outputPath != "" {
		var err error
		w, err = os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "screen: create output file %s", outputPath)
		}
		defer w.Close() //nolint:errcheck
	} else {
		w = os.Stdout
	}

	return export.Write(w, format, export.FromResult(res))
}

func printScreenSummary(res *screen.Result) {
	fmt.Printf("\nIndex: %s  universe: %d  threshold rank: %d (%.0f%%)  survivors: %d\n",
		res.Index, res.UniverseSize, res.ThresholdRank, res.ThresholdPct*100, len(res.Survivors()))
	if res.Warnings > 0 {
		fmt.Printf("Data warnings ignored: %d\n", res.Warnings)
	}
}
