package repos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/clients/zoom"
)

type TimecardsRepo struct {
	pool *pgxpool.Pool
}

func NewTimecardsRepo(pool *pgxpool.Pool) *TimecardsRepo {
	return &TimecardsRepo{pool: pool}
}

// Exists reports whether any row starts inside [from,to], ignoring agent filters.
func (r *TimecardsRepo) Exists(ctx context.Context, from time.Time, to time.Time) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM agent_timecards WHERE start_time BETWEEN $1 AND $2
		)
	`, from.UTC(), to.UTC()).Scan(&ok)
	return ok, err
}

func (r *TimecardsRepo) DeleteRange(ctx context.Context, from time.Time, to time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM agent_timecards WHERE start_time BETWEEN $1 AND $2
	`, from.UTC(), to.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertTimecards writes one page in a single transaction, so a failed page leaves no
// partial rows behind.
func (r *TimecardsRepo) InsertTimecards(ctx context.Context, events []zoom.TimecardEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO agent_timecards (
				work_session_id, start_time, end_time, user_id, user_name,
				user_status, user_sub_status, duration
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT DO NOTHING
		`,
			ev.WorkSessionID,
			ev.StartTime.UTC(),
			ev.EndTime.UTC(),
			ev.UserID,
			ev.UserName,
			ev.Status,
			ev.SubStatus,
			max(ev.DurationMS, 0),
		)
	}

	br := tx.SendBatch(ctx, batch)
	var inserted int64
	for range events {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, err
		}
		inserted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// List returns rows starting inside [from,to], optionally restricted to agent names.
func (r *TimecardsRepo) List(ctx context.Context, from time.Time, to time.Time, names []string) ([]models.Timecard, error) {
	var filter []string
	if len(names) > 0 {
		filter = names
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, work_session_id, start_time, end_time, user_id, user_name,
			user_status, user_sub_status, duration
		FROM agent_timecards
		WHERE start_time BETWEEN $1 AND $2
			AND ($3::text[] IS NULL OR user_name = ANY($3::text[]))
		ORDER BY start_time, id
	`, from.UTC(), to.UTC(), filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Timecard
	for rows.Next() {
		var tc models.Timecard
		if err := rows.Scan(&tc.ID, &tc.WorkSessionID, &tc.StartTime, &tc.EndTime, &tc.UserID, &tc.UserName, &tc.Status, &tc.SubStatus, &tc.DurationMS); err != nil {
			return nil, err
		}
		tc.StartTime = tc.StartTime.UTC()
		tc.EndTime = tc.EndTime.UTC()
		out = append(out, tc)
	}
	return out, rows.Err()
}
