package screen

import "time"

// Cell is one factor observation for one ticker: the raw value, the rank it
// earned within the universe, and whether the underlying data was missing.
type Cell struct {
	Value   float64 `json:"value"`
	Rank    int     `json:"rank"`
	Missing bool    `json:"missing,omitempty"`
}

// Row is one ticker's factor values, aligned with Result.Columns.
type Row struct {
	Ticker string `json:"ticker"`
	Cells  []Cell `json:"cells"`
	Passed bool   `json:"passed"`
}

// Result is the outcome of one screening run. Rows covers the whole
// universe in universe order; survivors are the rows with Passed set.
type Result struct {
	Index         string    `json:"index"`
	Mode          string    `json:"mode,omitempty"`
	UniverseSize  int       `json:"universe_size"`
	ThresholdPct  float64   `json:"threshold_pct"`
	ThresholdRank int       `json:"threshold_rank"`
	Columns       []string  `json:"columns"`
	Rows          []Row     `json:"rows"`
	Warnings      int       `json:"warnings,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Duration      float64   `json:"duration_secs"`
}

// Survivors returns the rows that passed every factor threshold, in
// universe order.
func (r *Result) Survivors() []Row {
	var out []Row
	for _, row := range r.Rows {
		if row.Passed {
			out = append(out, row)
		}
	}
	return out
}
