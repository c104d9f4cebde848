package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/workflow"
)

const runColumns = `run_id, kind, trigger, range_from, range_to, status, pages, fetched, inserted,
	skipped, failed_pages, deleted, COALESCE(stop_reason, ''), COALESCE(error, ''), started_at, finished_at`

type RefreshRunsRepo struct {
	pool *pgxpool.Pool
}

func NewRefreshRunsRepo(pool *pgxpool.Pool) *RefreshRunsRepo {
	return &RefreshRunsRepo{pool: pool}
}

// CreatePending records a run that was queued but has not started.
func (r *RefreshRunsRepo) CreatePending(ctx context.Context, run models.RefreshRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_runs (run_id, kind, trigger, range_from, range_to, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.RunID, run.Kind, run.Trigger, run.RangeFrom, run.RangeTo, workflow.RunStatusPending, time.Now().UTC())
	return mapErr(err)
}

// Begin moves a queued run to running, or inserts a new running row when the id is unknown.
func (r *RefreshRunsRepo) Begin(ctx context.Context, run models.RefreshRun) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM refresh_runs WHERE run_id = $1 FOR UPDATE`, run.RunID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_runs (run_id, kind, trigger, range_from, range_to, status, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, run.RunID, run.Kind, run.Trigger, run.RangeFrom, run.RangeTo, workflow.RunStatusRunning, run.StartedAt)
	case err != nil:
		return err
	case !workflow.CanTransition(status, workflow.RunStatusRunning):
		return ErrInvalidTransition
	default:
		_, err = tx.Exec(ctx, `
			UPDATE refresh_runs SET status = $2, started_at = $3 WHERE run_id = $1
		`, run.RunID, workflow.RunStatusRunning, run.StartedAt)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Finish stores the outcome of a running run.
func (r *RefreshRunsRepo) Finish(ctx context.Context, run models.RefreshRun) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM refresh_runs WHERE run_id = $1 FOR UPDATE`, run.RunID).Scan(&status); err != nil {
		return mapErr(err)
	}
	if !workflow.CanTransition(status, run.Status) {
		return ErrInvalidTransition
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	if _, err := tx.Exec(ctx, `
		UPDATE refresh_runs
		SET status = $2, pages = $3, fetched = $4, inserted = $5, skipped = $6,
			failed_pages = $7, deleted = $8, stop_reason = $9, error = $10, finished_at = $11
		WHERE run_id = $1
	`, run.RunID, run.Status, run.Pages, run.Fetched, run.Inserted, run.Skipped,
		run.FailedPages, run.Deleted, nullIfEmpty(run.StopReason), nullIfEmpty(run.Error), finished); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *RefreshRunsRepo) Get(ctx context.Context, runID uuid.UUID) (models.RefreshRun, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM refresh_runs WHERE run_id = $1`, runID))
	return run, mapErr(err)
}

func (r *RefreshRunsRepo) List(ctx context.Context, kind string, limit int) ([]models.RefreshRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM refresh_runs
		WHERE ($1::text = '' OR kind = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.RefreshRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (models.RefreshRun, error) {
	var run models.RefreshRun
	err := row.Scan(&run.RunID, &run.Kind, &run.Trigger, &run.RangeFrom, &run.RangeTo, &run.Status,
		&run.Pages, &run.Fetched, &run.Inserted, &run.Skipped, &run.FailedPages, &run.Deleted,
		&run.StopReason, &run.Error, &run.StartedAt, &run.FinishedAt)
	return run, err
}
