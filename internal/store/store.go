package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/titovtima/songsServer/internal/keyedmutex"
)

var (
	// ErrUserExists signals the username is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownUser is returned when a rights update names a user that does not exist.
	ErrUnknownUser = errors.New("unknown user")
	// ErrUnauthorized indicates an invalid or missing session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller may read the entity but not change it.
	ErrForbidden = errors.New("forbidden")
	// ErrCounterMissing means the keys table has no row for the requested sequence.
	ErrCounterMissing = errors.New("counter not found")
	// ErrCounterConflict means the counter row could not be advanced.
	ErrCounterConflict = errors.New("counter update conflict")
	// ErrTokenCollision means a token digest is already stored.
	ErrTokenCollision = errors.New("token already exists")
)

// Store provides persistence backed by Postgres.
type Store struct {
	db    *sql.DB
	locks *keyedmutex.Map
}

// New sets up a Store using the provided database handle. Counter allocation
// is serialized through locks, which may be shared with other components.
func New(db *sql.DB, locks *keyedmutex.Map) *Store {
	if locks == nil {
		locks = keyedmutex.New()
	}
	return &Store{db: db, locks: locks}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a transaction that is rolled back if fn fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	tx = nil
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func expectRows(res sql.Result, want int64, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n != want {
		return fmt.Errorf("%s: affected %d rows, want %d", what, n, want)
	}
	return nil
}
