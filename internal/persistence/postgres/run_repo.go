// Package postgres implements the run registry on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/spatweave/spatweave/internal/persistence"
)

// Connect opens a pooled connection and verifies it.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

const runSchema = `
CREATE TABLE IF NOT EXISTS augment_runs (
	run_id       TEXT PRIMARY KEY,
	dataset      TEXT NOT NULL,
	input_path   TEXT NOT NULL,
	output_path  TEXT NOT NULL,
	lambda       DOUBLE PRECISION NOT NULL,
	k            INTEGER NOT NULL,
	observations INTEGER NOT NULL,
	features     INTEGER NOT NULL,
	columns      INTEGER NOT NULL,
	duration_ms  BIGINT NOT NULL,
	params       JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_augment_runs_created ON augment_runs (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_augment_runs_dataset ON augment_runs (dataset, created_at DESC);
`

// EnsureSchema creates the run registry table when absent.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, runSchema); err != nil {
		return fmt.Errorf("failed to ensure run schema: %w", err)
	}
	return nil
}

// runRepo implements RunStore for PostgreSQL
type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates a new PostgreSQL run repository
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &runRepo{db: db, timeout: timeout}
}

// Insert adds a completed run record
func (r *runRepo) Insert(ctx context.Context, rec persistence.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.RunID == "" {
		return fmt.Errorf("run record requires a run_id")
	}

	paramsJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	query := `
		INSERT INTO augment_runs
		(run_id, dataset, input_path, output_path, lambda, k, observations,
		 features, columns, duration_ms, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err = r.db.QueryRowxContext(ctx, query,
		rec.RunID, rec.Dataset, rec.InputPath, rec.OutputPath, rec.Lambda,
		rec.K, rec.Observations, rec.Features, rec.Columns, rec.DurationMS,
		paramsJSON).
		Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}
	return nil
}

// Latest returns the most recent run, or nil when none exist
func (r *runRepo) Latest(ctx context.Context) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, selectRuns+` ORDER BY created_at DESC LIMIT 1`)
	rec, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return rec, nil
}

// List retrieves the most recent runs, newest first
func (r *runRepo) List(ctx context.Context, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, selectRuns+` ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// ListByDataset retrieves runs for one dataset digest, newest first
func (r *runRepo) ListByDataset(ctx context.Context, dataset string, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		selectRuns+` WHERE dataset = $1 ORDER BY created_at DESC LIMIT $2`,
		dataset, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for dataset: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

const selectRuns = `
	SELECT run_id, dataset, input_path, output_path, lambda, k, observations,
	       features, columns, duration_ms, params, created_at
	FROM augment_runs`

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*persistence.RunRecord, error) {
	var rec persistence.RunRecord
	var paramsJSON []byte

	err := row.Scan(&rec.RunID, &rec.Dataset, &rec.InputPath, &rec.OutputPath,
		&rec.Lambda, &rec.K, &rec.Observations, &rec.Features, &rec.Columns,
		&rec.DurationMS, &paramsJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run params: %w", err)
		}
	}
	return &rec, nil
}

func collectRuns(rows *sqlx.Rows) ([]persistence.RunRecord, error) {
	var out []persistence.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run records: %w", err)
	}
	return out, nil
}
