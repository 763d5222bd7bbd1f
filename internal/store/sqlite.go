package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/screener-cli/internal/screen"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS screen_runs (
	id             TEXT PRIMARY KEY,
	index_name     TEXT NOT NULL,
	mode           TEXT NOT NULL DEFAULT '',
	universe_size  INTEGER NOT NULL,
	threshold_pct  REAL NOT NULL,
	threshold_rank INTEGER NOT NULL,
	columns        TEXT NOT NULL,
	survivors      INTEGER NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS screen_run_rows (
	run_id  TEXT NOT NULL REFERENCES screen_runs(id) ON DELETE CASCADE,
	pos     INTEGER NOT NULL,
	ticker  TEXT NOT NULL,
	cells   TEXT NOT NULL,
	passed  INTEGER NOT NULL,
	PRIMARY KEY (run_id, pos)
);

CREATE INDEX IF NOT EXISTS idx_screen_runs_index_name ON screen_runs(index_name);
CREATE INDEX IF NOT EXISTS idx_screen_runs_created_at ON screen_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, res *screen.Result) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	columnsJSON, err := json.Marshal(res.Columns)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal columns")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO screen_runs
			(id, index_name, mode, universe_size, threshold_pct, threshold_rank, columns, survivors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, res.Index, res.Mode, res.UniverseSize, res.ThresholdPct, res.ThresholdRank, string(columnsJSON), len(res.Survivors()), now)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO screen_run_rows (run_id, pos, ticker, cells, passed)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: prepare row insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i, row := range res.Rows {
		cellsJSON, err := json.Marshal(row.Cells)
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: marshal cells for %s", row.Ticker)
		}
		if _, err := stmt.ExecContext(ctx, id, i, row.Ticker, string(cellsJSON), row.Passed); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert row for %s", row.Ticker)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit run")
	}
	return id, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var columnsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, index_name, mode, universe_size, threshold_pct, threshold_rank, columns, survivors, created_at
		FROM screen_runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.Index, &r.Mode, &r.UniverseSize, &r.ThresholdPct, &r.ThresholdRank, &columnsJSON, &r.Survivors, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.Errorf("sqlite: run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if err := json.Unmarshal([]byte(columnsJSON), &r.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, cells, passed FROM screen_run_rows WHERE run_id = ? ORDER BY pos
	`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rows for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var rr RunRow
		var cellsJSON string
		if err := rows.Scan(&rr.Ticker, &cellsJSON, &rr.Passed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run row")
		}
		if err := json.Unmarshal([]byte(cellsJSON), &rr.Cells); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal cells for %s", rr.Ticker)
		}
		r.Rows = append(r.Rows, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate run rows")
	}

	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `
		SELECT id, index_name, mode, universe_size, threshold_pct, threshold_rank, columns, survivors, created_at
		FROM screen_runs WHERE 1=1`
	var args []any

	if filter.Index != "" {
		query += ` AND index_name = ?`
		args = append(args, filter.Index)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		var columnsJSON string
		if err := rows.Scan(&r.ID, &r.Index, &r.Mode, &r.UniverseSize, &r.ThresholdPct, &r.ThresholdRank, &columnsJSON, &r.Survivors, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if err := json.Unmarshal([]byte(columnsJSON), &r.Columns); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal columns")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate runs")
	}

	return runs, nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM screen_runs WHERE id = ?`, runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run not found: %s", runID)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
