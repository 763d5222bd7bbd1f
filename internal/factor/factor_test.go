package factor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screener-cli/pkg/marketdata"
)

func TestPriceToBook(t *testing.T) {
	t.Parallel()

	f := PriceToBook("GBP")
	assert.Equal(t, "PX_BOOK_VALUE", f.Name)
	require.Len(t, f.Inputs, 2)
	assert.Equal(t, "GBP", f.Inputs[0].Currency)
	assert.Equal(t, "PREV", f.Inputs[0].Fill)

	rec := marketdata.Record{
		"px_last":         {Float: 120},
		"book_val_per_sh": {Float: 40},
	}
	v, ok := f.Compute(rec)
	require.True(t, ok)
	assert.InDelta(t, 3.0, v, 1e-9)
}

func TestPriceToBook_MissingAndZeroDenominator(t *testing.T) {
	t.Parallel()

	f := PriceToBook("GBP")

	_, ok := f.Compute(marketdata.Record{"px_last": {Float: 120}})
	assert.False(t, ok)

	_, ok = f.Compute(marketdata.Record{
		"px_last":         {Float: 120},
		"book_val_per_sh": {Missing: true},
	})
	assert.False(t, ok)

	_, ok = f.Compute(marketdata.Record{
		"px_last":         {Float: 120},
		"book_val_per_sh": {Float: 0},
	})
	assert.False(t, ok)
}

func TestAvgROE2Y(t *testing.T) {
	t.Parallel()

	f := AvgROE2Y()
	assert.Equal(t, "AVE_ROE_2Y", f.Name)
	require.Len(t, f.Inputs, 2)
	assert.Equal(t, -1, f.Inputs[0].PeriodOffset)
	assert.Equal(t, -2, f.Inputs[1].PeriodOffset)

	v, ok := f.Compute(marketdata.Record{
		"return_com_eqy[-1]": {Float: 12},
		"return_com_eqy[-2]": {Float: 8},
	})
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)

	_, ok = f.Compute(marketdata.Record{"return_com_eqy[-1]": {Float: 12}})
	assert.False(t, ok)
}

func TestCashPerAsset(t *testing.T) {
	t.Parallel()

	f := CashPerAsset()
	v, ok := f.Compute(marketdata.Record{
		"cf_cash_from_oper": {Float: 15},
		"bs_tot_asset":      {Float: 300},
	})
	require.True(t, ok)
	assert.InDelta(t, 0.05, v, 1e-9)

	_, ok = f.Compute(marketdata.Record{
		"cf_cash_from_oper": {Float: 15},
		"bs_tot_asset":      {Float: 0},
	})
	assert.False(t, ok)
}

func TestDefaults_ColumnOrder(t *testing.T) {
	t.Parallel()

	factors := Defaults("GBP")
	require.Len(t, factors, 3)
	assert.Equal(t, "AVE_ROE_2Y", factors[0].Name)
	assert.Equal(t, "PX_BOOK_VALUE", factors[1].Name)
	assert.Equal(t, "CASH_PER_ASSET", factors[2].Name)
	require.NoError(t, Validate(factors))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Validate(nil))

	dup := []Factor{PriceToBook(""), PriceToBook("")}
	assert.Error(t, Validate(dup))

	noCompute := []Factor{{Name: "X", Inputs: Defaults("")[0].Inputs}}
	assert.Error(t, Validate(noCompute))

	noInputs := PriceToBook("")
	noInputs.Inputs = nil
	assert.Error(t, Validate([]Factor{noInputs}))
}

func TestFieldSet_DeduplicatesAcrossFactors(t *testing.T) {
	t.Parallel()

	// px_last appears in both; the union keeps one copy in first-seen order.
	a := PriceToBook("GBP")
	b := Factor{
		Name:   "MOMENTUM",
		Inputs: []marketdata.FieldSpec{{Field: FieldPxLast, Fill: "PREV", Currency: "GBP"}},
		Compute: func(rec marketdata.Record) (float64, bool) {
			return lookup(rec, marketdata.FieldSpec{Field: FieldPxLast})
		},
	}

	fields := FieldSet([]Factor{a, b})
	require.Len(t, fields, 2)
	assert.Equal(t, "px_last", fields[0].Key())
	assert.Equal(t, "book_val_per_sh", fields[1].Key())
}

func TestLoadDefinitions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "screen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
screen:
  threshold_pct: 0.75
  currency: GBP
  factors:
    - kind: avg_roe
      years: 3
    - kind: price_to_book
      currency: USD
    - kind: cash_per_asset
      name: OCF_TO_ASSETS
`), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, defs.ThresholdPct, 1e-9)

	factors, err := defs.Build()
	require.NoError(t, err)
	require.Len(t, factors, 3)

	assert.Equal(t, "AVE_ROE_3Y", factors[0].Name)
	require.Len(t, factors[0].Inputs, 3)
	assert.Equal(t, -3, factors[0].Inputs[2].PeriodOffset)

	assert.Equal(t, "USD", factors[1].Inputs[0].Currency)
	assert.Equal(t, "OCF_TO_ASSETS", factors[2].Name)
}

func TestLoadDefinitions_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadDefinitions(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("screen:\n  factors: []\n"), 0o644))
	_, err = LoadDefinitions(empty)
	assert.Error(t, err)

	badThreshold := filepath.Join(dir, "threshold.yaml")
	require.NoError(t, os.WriteFile(badThreshold, []byte(`
screen:
  threshold_pct: 1.5
  factors:
    - kind: price_to_book
`), 0o644))
	_, err = LoadDefinitions(badThreshold)
	assert.Error(t, err)
}

func TestBuild_NegativeLookback(t *testing.T) {
	t.Parallel()

	defs := &Definitions{
		ThresholdPct: 0.8,
		Factors:      []Definition{{Kind: "avg_roe", Years: -1}},
	}
	_, err := defs.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestBuild_UnknownKind(t *testing.T) {
	t.Parallel()

	defs := &Definitions{
		ThresholdPct: 0.8,
		Factors:      []Definition{{Kind: "sharpe"}},
	}
	_, err := defs.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}
