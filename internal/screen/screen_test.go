package screen

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/screener-cli/internal/factor"
	"github.com/sells-group/screener-cli/pkg/marketdata"
)

// fakeClient serves canned universe and fundamentals data.
type fakeClient struct {
	members  []string
	records  map[string]marketdata.Record
	warnings []marketdata.Warning
	err      error

	memberCalls int
	lastRequest marketdata.FundamentalsRequest
}

func (f *fakeClient) IndexMembers(_ context.Context, index string) ([]string, error) {
	f.memberCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.members, nil
}

func (f *fakeClient) Fundamentals(_ context.Context, req marketdata.FundamentalsRequest) (*marketdata.FundamentalsResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastRequest = req
	return &marketdata.FundamentalsResponse{Records: f.records, Warnings: f.warnings}, nil
}

// record builds a fundamentals record for the three default factors.
func record(px, bv, roe1, roe2, cfo, assets float64) marketdata.Record {
	return marketdata.Record{
		"px_last":            {Float: px},
		"book_val_per_sh":    {Float: bv},
		"return_com_eqy[-1]": {Float: roe1},
		"return_com_eqy[-2]": {Float: roe2},
		"cf_cash_from_oper":  {Float: cfo},
		"bs_tot_asset":       {Float: assets},
	}
}

func defaultParams(threshold float64) Params {
	return Params{
		Index:        "UKX",
		ThresholdPct: threshold,
		Factors:      factor.Defaults("GBP"),
	}
}

func fiveTickerClient() *fakeClient {
	// Factor values (ROE avg, P/B, cash/assets) per ticker:
	//   A: 10, 1.0, 0.10
	//   B: 20, 2.0, 0.20
	//   C: 30, 3.0, 0.30
	//   D: 40, 4.0, 0.40
	//   E: 50, 5.0, 0.50
	// Every factor ranks A..E as 1..5, so with p=0.8 only E drops.
	return &fakeClient{
		members: []string{"A", "B", "C", "D", "E"},
		records: map[string]marketdata.Record{
			"A": record(10, 10, 10, 10, 10, 100),
			"B": record(20, 10, 20, 20, 20, 100),
			"C": record(30, 10, 30, 30, 30, 100),
			"D": record(40, 10, 40, 40, 40, 100),
			"E": record(50, 10, 50, 50, 50, 100),
		},
	}
}

func TestRun_FiltersWorstDecile(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()
	res, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)

	assert.Equal(t, 5, res.UniverseSize)
	assert.Equal(t, 4, res.ThresholdRank)
	assert.Equal(t, []string{"AVE_ROE_2Y", "PX_BOOK_VALUE", "CASH_PER_ASSET"}, res.Columns)

	survivors := res.Survivors()
	require.Len(t, survivors, 4)
	for i, want := range []string{"A", "B", "C", "D"} {
		assert.Equal(t, want, survivors[i].Ticker)
	}

	// Raw values, not ranks, in the cells.
	assert.InDelta(t, 10.0, survivors[0].Cells[0].Value, 1e-9) // avg ROE
	assert.InDelta(t, 1.0, survivors[0].Cells[1].Value, 1e-9)  // price/book
	assert.InDelta(t, 0.10, survivors[0].Cells[2].Value, 1e-9) // cash/assets
}

func TestRun_RequestsUnionOfFactorFields(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()
	_, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)

	keys := make([]string, len(client.lastRequest.Fields))
	for i, f := range client.lastRequest.Fields {
		keys[i] = f.Key()
	}
	assert.ElementsMatch(t, []string{
		"return_com_eqy[-1]", "return_com_eqy[-2]",
		"px_last", "book_val_per_sh",
		"cf_cash_from_oper", "bs_tot_asset",
	}, keys)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, client.lastRequest.Tickers)
}

func TestRun_ANDAcrossFactors(t *testing.T) {
	t.Parallel()

	// B is best on ROE but worst on price/book; AND semantics drop both
	// B (P/B rank 5) and E (ROE rank 5, cash rank 5).
	client := &fakeClient{
		members: []string{"A", "B", "C", "D", "E"},
		records: map[string]marketdata.Record{
			"A": record(10, 10, 20, 20, 10, 100),
			"B": record(90, 10, 10, 10, 20, 100),
			"C": record(20, 10, 30, 30, 30, 100),
			"D": record(30, 10, 40, 40, 40, 100),
			"E": record(40, 10, 50, 50, 50, 100),
		},
	}
	res, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)

	var tickers []string
	for _, row := range res.Survivors() {
		tickers = append(tickers, row.Ticker)
	}
	assert.Equal(t, []string{"A", "C", "D"}, tickers)
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()
	s := New(client)

	first, err := s.Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)
	second, err := s.Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)

	assert.Equal(t, first.Columns, second.Columns)
	assert.Equal(t, first.Rows, second.Rows)
}

func TestRun_MissingDataRanksLastWithoutAborting(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()
	// E loses its book value: price/book is missing, so E ranks last on
	// that factor and still gets screened out, not errored out.
	rec := client.records["E"]
	rec["book_val_per_sh"] = marketdata.Value{Missing: true}

	res, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)

	var e Row
	for _, row := range res.Rows {
		if row.Ticker == "E" {
			e = row
		}
	}
	assert.True(t, e.Cells[1].Missing)
	assert.Equal(t, 5, e.Cells[1].Rank)
	assert.False(t, e.Passed)
	assert.Len(t, res.Survivors(), 4)
}

func TestRun_ZeroVarianceFactor(t *testing.T) {
	t.Parallel()

	// Identical cash/assets across the universe must not blow up; ranks
	// fall back to universe order on that factor.
	client := &fakeClient{
		members: []string{"A", "B", "C", "D", "E"},
		records: map[string]marketdata.Record{
			"A": record(10, 10, 10, 10, 25, 100),
			"B": record(20, 10, 20, 20, 25, 100),
			"C": record(30, 10, 30, 30, 25, 100),
			"D": record(40, 10, 40, 40, 25, 100),
			"E": record(50, 10, 50, 50, 25, 100),
		},
	}
	res, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)

	for i, row := range res.Rows {
		assert.Equal(t, i+1, row.Cells[2].Rank)
	}
}

func TestRun_ThresholdBoundaries(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()

	// p=1.0: nothing filtered.
	res, err := New(client).Run(context.Background(), defaultParams(1.0))
	require.NoError(t, err)
	assert.Len(t, res.Survivors(), 5)

	// p=0.0: everything filtered.
	res, err = New(client).Run(context.Background(), defaultParams(0.0))
	require.NoError(t, err)
	assert.Empty(t, res.Survivors())
}

func TestRun_WarningsAreCountedNotFatal(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()
	client.warnings = []marketdata.Warning{
		{Ticker: "A", Field: "px_last", Message: "currency mismatch: reported USD, requested GBP"},
	}

	res, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Warnings)
	assert.Len(t, res.Survivors(), 4)
}

func TestRun_EmptyUniverse(t *testing.T) {
	t.Parallel()

	client := &fakeClient{members: nil}
	_, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no members")
}

func TestRun_ServiceFailureAborts(t *testing.T) {
	t.Parallel()

	client := &fakeClient{err: eris.New("service unavailable")}
	_, err := New(client).Run(context.Background(), defaultParams(0.80))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
}

func TestRun_ValidatesParams(t *testing.T) {
	t.Parallel()

	client := fiveTickerClient()
	s := New(client)

	_, err := s.Run(context.Background(), Params{ThresholdPct: 0.8, Factors: factor.Defaults("")})
	assert.Error(t, err)

	p := defaultParams(1.5)
	_, err = s.Run(context.Background(), p)
	assert.Error(t, err)

	p = defaultParams(0.8)
	p.Factors = nil
	_, err = s.Run(context.Background(), p)
	assert.Error(t, err)
}
