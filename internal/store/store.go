// Package store persists screening runs and their per-ticker rows.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/screener-cli/internal/config"
	"github.com/sells-group/screener-cli/internal/screen"
)

// Run is a persisted screening run. Rows is populated by GetRun and left
// nil by ListRuns.
type Run struct {
	ID            string    `json:"id"`
	Index         string    `json:"index"`
	Mode          string    `json:"mode,omitempty"`
	UniverseSize  int       `json:"universe_size"`
	ThresholdPct  float64   `json:"threshold_pct"`
	ThresholdRank int       `json:"threshold_rank"`
	Columns       []string  `json:"columns"`
	Survivors     int       `json:"survivors"`
	CreatedAt     time.Time `json:"created_at"`
	Rows          []RunRow  `json:"rows,omitempty"`
}

// RunRow is one persisted universe member with its factor cells.
type RunRow struct {
	Ticker string        `json:"ticker"`
	Cells  []screen.Cell `json:"cells"`
	Passed bool          `json:"passed"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Index        string    `json:"index,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for screening runs.
type Store interface {
	// SaveRun persists a completed screening result and returns the run ID.
	SaveRun(ctx context.Context, res *screen.Result) (string, error)
	// GetRun loads a run with all its rows.
	GetRun(ctx context.Context, runID string) (*Run, error)
	// ListRuns lists run headers matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	// DeleteRun removes a run and its rows.
	DeleteRun(ctx context.Context, runID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite":
		return NewSQLite(cfg.SQLitePath)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
