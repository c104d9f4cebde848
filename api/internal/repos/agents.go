package repos

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zcc-reporting/shared/clients/zoom"
)

type AgentsRepo struct {
	pool *pgxpool.Pool
}

func NewAgentsRepo(pool *pgxpool.Pool) *AgentsRepo {
	return &AgentsRepo{pool: pool}
}

func (r *AgentsRepo) Any(ctx context.Context) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agents)`).Scan(&ok)
	return ok, err
}

func (r *AgentsRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM agents`).Scan(&n)
	return n, err
}

// InsertAgents never overwrites an existing user_id, so repeated refreshes are idempotent.
func (r *AgentsRepo) InsertAgents(ctx context.Context, agents []zoom.Agent) (int64, error) {
	if len(agents) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, a := range agents {
		batch.Queue(`
			INSERT INTO agents (user_id, user_name)
			VALUES ($1, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, a.UserID, a.UserName)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range agents {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *AgentsRepo) ListNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT user_name
		FROM agents
		WHERE user_name <> ''
		ORDER BY user_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
