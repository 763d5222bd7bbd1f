package screen

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/screener-cli/internal/factor"
	"github.com/sells-group/screener-cli/pkg/marketdata"
)

// Params configures one screening run.
type Params struct {
	Index        string          // index whose members form the universe
	ThresholdPct float64         // keep ranks <= floor(pct * N), in [0,1]
	Factors      []factor.Factor // output column order
	Mode         string          // marketdata execution mode
}

// Screener runs factor screens against a market data client. The client is
// passed in explicitly; the screener holds no connection state of its own.
type Screener struct {
	client marketdata.Client
}

// New creates a Screener backed by the given client.
func New(client marketdata.Client) *Screener {
	return &Screener{client: client}
}

// Run executes one screening pass: fetch the universe, fetch fundamentals,
// compute factors, rank, filter, assemble. Universe and service failures
// abort the run; a ticker with missing factor data stays in the universe
// and ranks last on the affected factor.
func (s *Screener) Run(ctx context.Context, p Params) (*Result, error) {
	start := time.Now()

	if p.Index == "" {
		return nil, eris.New("screen: index is required")
	}
	if p.ThresholdPct < 0 || p.ThresholdPct > 1 {
		return nil, eris.Errorf("screen: threshold %v outside [0,1]", p.ThresholdPct)
	}
	if err := factor.Validate(p.Factors); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("index", p.Index))

	universe, err := s.client.IndexMembers(ctx, p.Index)
	if err != nil {
		return nil, eris.Wrapf(err, "screen: universe for %s", p.Index)
	}
	if len(universe) == 0 {
		return nil, eris.Errorf("screen: index %s has no members", p.Index)
	}

	req := marketdata.FundamentalsRequest{
		Tickers: universe,
		Fields:  factor.FieldSet(p.Factors),
		Mode:    p.Mode,
	}
	if err := req.Validate(); err != nil {
		return nil, eris.Wrap(err, "screen: build request")
	}

	log.Info("fetching fundamentals",
		zap.Int("universe_size", len(universe)),
		zap.Int("fields", len(req.Fields)),
		zap.String("mode", p.Mode),
	)

	resp, err := s.client.Fundamentals(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "screen: fetch fundamentals")
	}
	if len(resp.Warnings) > 0 {
		// Currency mismatches across a multi-listing universe are expected;
		// they do not affect ranking.
		log.Debug("data warnings ignored", zap.Int("count", len(resp.Warnings)))
	}

	n := len(universe)
	threshold := ThresholdRank(p.ThresholdPct, n)

	// Compute factor values in universe order, then rank each factor.
	values := make([][]float64, len(p.Factors))
	missing := make([][]bool, len(p.Factors))
	ranks := make([][]int, len(p.Factors))
	for f, fac := range p.Factors {
		values[f] = make([]float64, n)
		missing[f] = make([]bool, n)
		for i, ticker := range universe {
			rec := resp.Records[ticker]
			v, ok := fac.Compute(rec)
			if !ok {
				missing[f][i] = true
				continue
			}
			values[f][i] = v
		}
		ranks[f] = Rank(values[f], missing[f])
	}

	passes := Filter(ranks, threshold)

	res := &Result{
		Index:         p.Index,
		Mode:          p.Mode,
		UniverseSize:  n,
		ThresholdPct:  p.ThresholdPct,
		ThresholdRank: threshold,
		Columns:       make([]string, len(p.Factors)),
		Rows:          make([]Row, n),
		Warnings:      len(resp.Warnings),
		StartedAt:     start.UTC(),
	}
	for f, fac := range p.Factors {
		res.Columns[f] = fac.Name
	}
	for i, ticker := range universe {
		cells := make([]Cell, len(p.Factors))
		for f := range p.Factors {
			cells[f] = Cell{
				Value:   values[f][i],
				Rank:    ranks[f][i],
				Missing: missing[f][i],
			}
		}
		res.Rows[i] = Row{Ticker: ticker, Cells: cells, Passed: passes[i]}
	}
	res.Duration = time.Since(start).Seconds()

	log.Info("screen complete",
		zap.Int("universe_size", n),
		zap.Int("threshold_rank", threshold),
		zap.Int("survivors", len(res.Survivors())),
		zap.Float64("duration_secs", res.Duration),
	)

	return res, nil
}
