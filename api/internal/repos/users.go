package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zcc-reporting/api/internal/models"
)

const userSelect = `
	SELECT u.id, u.name, u.email, u.password_hash, u.role_id, COALESCE(r.name, ''),
		COALESCE(r.permissions, '[]'::jsonb), u.created_at, u.last_login_at
	FROM users u
	LEFT JOIN roles r ON r.id = u.role_id
`

type UsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{pool: pool}
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE lower(u.email) = lower($1)`, strings.TrimSpace(email)))
	return u, mapErr(err)
}

func (r *UsersRepo) GetByID(ctx context.Context, id int64) (models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
	return u, mapErr(err)
}

// CreateIfAbsent inserts the user unless the email is taken. It reports whether a row
// was created.
func (r *UsersRepo) CreateIfAbsent(ctx context.Context, name string, email string, passwordHash string, roleID int64) (bool, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, role_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`, strings.TrimSpace(name), strings.TrimSpace(email), passwordHash, roleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *UsersRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UsersRepo) TouchLogin(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, time.Now().UTC())
	return err
}

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.RoleID, &u.Role, &u.Permissions, &u.CreatedAt, &u.LastLoginAt)
	if u.Permissions == nil {
		u.Permissions = []string{}
	}
	return u, err
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
