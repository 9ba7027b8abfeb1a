// Package history is the optional run journal: one row per execution attempt,
// scheduled or manual. Schedule state itself is never persisted.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"errands/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS errand_runs (
  id TEXT PRIMARY KEY,
  errand_id TEXT NOT NULL,
  name TEXT NOT NULL,
  category TEXT NOT NULL CHECK(category IN ('SHORT','MEDIUM','LONG')),
  trigger_kind TEXT NOT NULL CHECK(trigger_kind IN ('schedule','manual')),
  started_at INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_errand_runs_started ON errand_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_errand_runs_errand ON errand_runs(errand_id, started_at DESC);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	Record(ctx context.Context, run domain.Run) error
	ListRecent(ctx context.Context, limit int) ([]domain.Run, error)
	ListByErrand(ctx context.Context, errandID string, limit int) ([]domain.Run, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) Record(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		run.ID = "run_" + uuid.NewString()
	}
	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO errand_runs (id,errand_id,name,category,trigger_kind,started_at,duration_ms,success,error)
VALUES (?,?,?,?,?,?,?,?,?)
`, run.ID, run.ErrandID, run.Name, string(run.Category), string(run.Trigger),
		run.StartedAt.UnixMilli(), run.Duration.Milliseconds(), run.Success, errText)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

const selectRuns = `
SELECT id,errand_id,name,category,trigger_kind,started_at,duration_ms,success,error
FROM errand_runs`

func (r *sqliteRepo) ListRecent(ctx context.Context, limit int) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func (r *sqliteRepo) ListByErrand(ctx context.Context, errandID string, limit int) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, selectRuns+` WHERE errand_id=? ORDER BY started_at DESC, rowid DESC LIMIT ?`, errandID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

// Prune deletes runs started before the cutoff.
func (r *sqliteRepo) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM errand_runs WHERE started_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanRuns(rows *sql.Rows) ([]domain.Run, error) {
	defer rows.Close()
	var runs []domain.Run
	for rows.Next() {
		var (
			run               domain.Run
			category, trigger string
			startedMs, durMs  int64
			errText           sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.ErrandID, &run.Name, &category, &trigger, &startedMs, &durMs, &run.Success, &errText); err != nil {
			return nil, err
		}
		run.Category = domain.Category(category)
		run.Trigger = domain.Trigger(trigger)
		run.StartedAt = time.UnixMilli(startedMs)
		run.Duration = time.Duration(durMs) * time.Millisecond
		run.Error = errText.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 50
	}
	return limit
}
