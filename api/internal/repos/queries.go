package repos // repository package

import ( // imports
	"context" // context
	"errors"  // error matching

	"github.com/jackc/pgx/v5"        // pgx interfaces
	"github.com/jackc/pgx/v5/pgconn" // command tags and pg errors
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid refresh run transition")
)

type DBTX interface { // pool or transaction
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error) // execute
	Query(context.Context, string, ...any) (pgx.Rows, error)         // query rows
	QueryRow(context.Context, string, ...any) pgx.Row                // query one row
}

// mapErr turns driver errors callers branch on into package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Join(ErrConflict, err)
	}
	return err
}
