package repos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/clients/zoom"
)

const credentialColumns = `id, account_id, client_id, client_secret, is_primary, time_zone, created_at, updated_at`

type CredentialsRepo struct {
	pool *pgxpool.Pool
}

func NewCredentialsRepo(pool *pgxpool.Pool) *CredentialsRepo {
	return &CredentialsRepo{pool: pool}
}

// List orders the primary record first, then by id.
func (r *CredentialsRepo) List(ctx context.Context) ([]models.ZoomCredential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+credentialColumns+`
		FROM zoom_credentials
		ORDER BY is_primary DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ZoomCredential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CredentialsRepo) Get(ctx context.Context, id int64) (models.ZoomCredential, error) {
	c, err := scanCredential(r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM zoom_credentials WHERE id = $1
	`, id))
	return c, mapErr(err)
}

// Create inserts a credential. A primary record is created inside the same transaction
// that clears the previous primary.
func (r *CredentialsRepo) Create(ctx context.Context, c models.ZoomCredential) (models.ZoomCredential, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ZoomCredential{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if c.IsPrimary {
		if err := lockPrimary(ctx, tx); err != nil {
			return models.ZoomCredential{}, err
		}
		if err := clearPrimary(ctx, tx, 0); err != nil {
			return models.ZoomCredential{}, err
		}
	}
	now := time.Now().UTC()
	created, err := scanCredential(tx.QueryRow(ctx, `
		INSERT INTO zoom_credentials (account_id, client_id, client_secret, is_primary, time_zone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+credentialColumns,
		strings.TrimSpace(c.AccountID), strings.TrimSpace(c.ClientID), c.ClientSecret, c.IsPrimary, timeZoneOrUTC(c.TimeZone), now,
	))
	if err != nil {
		return models.ZoomCredential{}, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ZoomCredential{}, err
	}
	return created, nil
}

// Update applies a partial patch. Primary=true is applied with the set-primary semantics.
func (r *CredentialsRepo) Update(ctx context.Context, id int64, patch models.CredentialPatch) (models.ZoomCredential, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ZoomCredential{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if patch.Primary != nil && *patch.Primary {
		if err := lockPrimary(ctx, tx); err != nil {
			return models.ZoomCredential{}, err
		}
	}
	current, err := scanCredential(tx.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM zoom_credentials WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return models.ZoomCredential{}, mapErr(err)
	}

	if patch.AccountID != nil {
		current.AccountID = strings.TrimSpace(*patch.AccountID)
	}
	if patch.ClientID != nil {
		current.ClientID = strings.TrimSpace(*patch.ClientID)
	}
	if patch.ClientSecret != nil {
		current.ClientSecret = *patch.ClientSecret
	}
	if patch.TimeZone != nil {
		current.TimeZone = timeZoneOrUTC(*patch.TimeZone)
	}
	if patch.Primary != nil {
		if *patch.Primary {
			if err := clearPrimary(ctx, tx, id); err != nil {
				return models.ZoomCredential{}, err
			}
		}
		current.IsPrimary = *patch.Primary
	}

	updated, err := scanCredential(tx.QueryRow(ctx, `
		UPDATE zoom_credentials
		SET account_id = $2, client_id = $3, client_secret = $4, is_primary = $5, time_zone = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+credentialColumns,
		id, current.AccountID, current.ClientID, current.ClientSecret, current.IsPrimary, current.TimeZone, time.Now().UTC(),
	))
	if err != nil {
		return models.ZoomCredential{}, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.ZoomCredential{}, err
	}
	return updated, nil
}

// SetPrimary makes id the only primary record. Both updates commit together, so readers
// never observe zero or two primaries.
func (r *CredentialsRepo) SetPrimary(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockPrimary(ctx, tx); err != nil {
		return err
	}
	var locked int64
	if err := tx.QueryRow(ctx, `SELECT id FROM zoom_credentials WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return mapErr(err)
	}
	if err := clearPrimary(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE zoom_credentials SET is_primary = true, updated_at = $2 WHERE id = $1
	`, id, time.Now().UTC()); err != nil {
		return mapErr(err)
	}
	return tx.Commit(ctx)
}

func (r *CredentialsRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM zoom_credentials WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve returns the primary credential, else the one with the lowest id.
func (r *CredentialsRepo) Resolve(ctx context.Context) (models.ZoomCredential, error) {
	c, err := scanCredential(r.pool.QueryRow(ctx, `
		SELECT `+credentialColumns+`
		FROM zoom_credentials
		ORDER BY is_primary DESC, id
		LIMIT 1
	`))
	return c, mapErr(err)
}

// Credential adapts Resolve for the token cache.
func (r *CredentialsRepo) Credential(ctx context.Context) (zoom.Credential, error) {
	c, err := r.Resolve(ctx)
	if errors.Is(err, ErrNotFound) {
		return zoom.Credential{}, zoom.ErrCredentialMissing
	}
	if err != nil {
		return zoom.Credential{}, err
	}
	return zoom.Credential{AccountID: c.AccountID, ClientID: c.ClientID, ClientSecret: c.ClientSecret}, nil
}

// TimeZone returns the organization zone name, "UTC" when no credential exists.
func (r *CredentialsRepo) TimeZone(ctx context.Context) (string, error) {
	c, err := r.Resolve(ctx)
	if errors.Is(err, ErrNotFound) {
		return "UTC", nil
	}
	if err != nil {
		return "", err
	}
	return timeZoneOrUTC(c.TimeZone), nil
}

// primaryLockKey guards primary switches; concurrent switches would otherwise both see the
// old primary and collide on the single-primary index.
const primaryLockKey int64 = 0x7a63635f70726d

// lockPrimary must run before any row lock in the transaction. Taking it after a
// FOR UPDATE lets two switches wait on each other's rows.
func lockPrimary(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, primaryLockKey)
	return err
}

func clearPrimary(ctx context.Context, db DBTX, keep int64) error {
	_, err := db.Exec(ctx, `
		UPDATE zoom_credentials SET is_primary = false, updated_at = $2
		WHERE is_primary AND id <> $1
	`, keep, time.Now().UTC())
	return err
}

func scanCredential(row pgx.Row) (models.ZoomCredential, error) {
	var c models.ZoomCredential
	err := row.Scan(&c.ID, &c.AccountID, &c.ClientID, &c.ClientSecret, &c.IsPrimary, &c.TimeZone, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func timeZoneOrUTC(tz string) string {
	if tz = strings.TrimSpace(tz); tz == "" {
		return "UTC"
	}
	return tz
}
