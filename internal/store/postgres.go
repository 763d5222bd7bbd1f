package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/screener-cli/internal/db"
	"github.com/sells-group/screener-cli/internal/screen"
)

// runRowColumns is the COPY column order for screen_run_rows.
var runRowColumns = []string{"run_id", "pos", "ticker", "cells", "passed"}

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS screen_runs (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	index_name     TEXT NOT NULL,
	mode           TEXT NOT NULL DEFAULT '',
	universe_size  INTEGER NOT NULL,
	threshold_pct  DOUBLE PRECISION NOT NULL,
	threshold_rank INTEGER NOT NULL,
	columns        JSONB NOT NULL,
	survivors      INTEGER NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS screen_run_rows (
	run_id  TEXT NOT NULL REFERENCES screen_runs(id) ON DELETE CASCADE,
	pos     INTEGER NOT NULL,
	ticker  TEXT NOT NULL,
	cells   JSONB NOT NULL,
	passed  BOOLEAN NOT NULL,
	PRIMARY KEY (run_id, pos)
);

CREATE INDEX IF NOT EXISTS idx_screen_runs_index_name ON screen_runs(index_name);
CREATE INDEX IF NOT EXISTS idx_screen_runs_created_at ON screen_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_screen_run_rows_run_id ON screen_run_rows(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, res *screen.Result) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	columnsJSON, err := json.Marshal(res.Columns)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal columns")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO screen_runs
			(id, index_name, mode, universe_size, threshold_pct, threshold_rank, columns, survivors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, res.Index, res.Mode, res.UniverseSize, res.ThresholdPct, res.ThresholdRank, columnsJSON, len(res.Survivors()), now)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert run")
	}

	rows := make([][]any, len(res.Rows))
	for i, row := range res.Rows {
		cellsJSON, err := json.Marshal(row.Cells)
		if err != nil {
			return "", eris.Wrapf(err, "postgres: marshal cells for %s", row.Ticker)
		}
		rows[i] = []any{id, i, row.Ticker, cellsJSON, row.Passed}
	}
	if _, err := db.CopyRows(ctx, tx, "screen_run_rows", runRowColumns, rows); err != nil {
		return "", eris.Wrapf(err, "postgres: copy rows for run %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit run")
	}
	return id, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var columnsJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, index_name, mode, universe_size, threshold_pct, threshold_rank, columns, survivors, created_at
		FROM screen_runs WHERE id = $1
	`, runID).Scan(&r.ID, &r.Index, &r.Mode, &r.UniverseSize, &r.ThresholdPct, &r.ThresholdRank, &columnsJSON, &r.Survivors, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("postgres: run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err := json.Unmarshal(columnsJSON, &r.Columns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal columns")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ticker, cells, passed FROM screen_run_rows WHERE run_id = $1 ORDER BY pos
	`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rows for %s", runID)
	}
	defer rows.Close()

	for rows.Next() {
		var rr RunRow
		var cellsJSON []byte
		if err := rows.Scan(&rr.Ticker, &cellsJSON, &rr.Passed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run row")
		}
		if err := json.Unmarshal(cellsJSON, &rr.Cells); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal cells for %s", rr.Ticker)
		}
		r.Rows = append(r.Rows, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate run rows")
	}

	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `
		SELECT id, index_name, mode, universe_size, threshold_pct, threshold_rank, columns, survivors, created_at
		FROM screen_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Index != "" {
		query += fmt.Sprintf(` AND index_name = $%d`, argIdx)
		args = append(args, filter.Index)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var columnsJSON []byte
		if err := rows.Scan(&r.ID, &r.Index, &r.Mode, &r.UniverseSize, &r.ThresholdPct, &r.ThresholdRank, &columnsJSON, &r.Survivors, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(columnsJSON, &r.Columns); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal columns")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate runs")
	}

	return runs, nil
}

func (s *PostgresStore) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM screen_runs WHERE id = $1`, runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}
