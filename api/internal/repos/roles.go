package repos

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zcc-reporting/api/internal/models"
)

type RolesRepo struct {
	pool *pgxpool.Pool
}

func NewRolesRepo(pool *pgxpool.Pool) *RolesRepo {
	return &RolesRepo{pool: pool}
}

// Ensure returns the named role, creating it with perms when missing. An existing role
// keeps its permissions.
func (r *RolesRepo) Ensure(ctx context.Context, name string, perms []string) (models.Role, error) {
	name = strings.TrimSpace(name)
	if perms == nil {
		perms = []string{}
	}
	var role models.Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, permissions)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, permissions, created_at
	`, name, perms).Scan(&role.ID, &role.Name, &role.Permissions, &role.CreatedAt)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Role{}, err
	}
	err = r.pool.QueryRow(ctx, `
		SELECT id, name, permissions, created_at FROM roles WHERE name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Permissions, &role.CreatedAt)
	return role, mapErr(err)
}
