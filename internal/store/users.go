package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// User is the public profile of an account.
type User struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	Email              *string    `json:"email,omitempty"`
	IsAdmin            bool       `json:"isAdmin"`
	Approved           bool       `json:"approved"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
	LastPasswordChange time.Time  `json:"-"`
}

// Credentials carries the stored password digests for a username. Legacy is
// empty unless the account still has a digest in the legacy scheme.
type Credentials struct {
	UserID   int64
	Password string
	Legacy   string
}

// UsernameTaken reports whether an account with the username exists.
func (s *Store) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)
	`, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

// CreateUser inserts an account under a preallocated id.
func (s *Store) CreateUser(ctx context.Context, id int64, username, passwordDigest string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password)
		VALUES ($1, $2, $3)
	`, id, username, passwordDigest); err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, is_admin, approved, last_login, last_password_change`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var (
		u         User
		email     sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &u.IsAdmin, &u.Approved, &lastLogin, &u.LastPasswordChange); err != nil {
		return User{}, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}

// UserByID loads the account with the given id.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %d: %w", id, err)
	}
	return u, nil
}

// UserByUsername loads the account with the given username.
func (s *Store) UserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %q: %w", username, err)
	}
	return u, nil
}

// CredentialsByUsername returns the stored digests for a username.
func (s *Store) CredentialsByUsername(ctx context.Context, username string) (Credentials, error) {
	var c Credentials
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.password, COALESCE(l.password, '')
		FROM users u
		LEFT JOIN legacy_passwords l ON l.user_id = u.id
		WHERE u.username = $1
	`, username).Scan(&c.UserID, &c.Password, &c.Legacy)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrUserNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return c, nil
}

// TouchLogin stamps the last successful login time.
func (s *Store) TouchLogin(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpgradePassword replaces a legacy digest with one in the current scheme.
// The new digest, the removal of the legacy row and the login stamp commit
// together.
func (s *Store) UpgradePassword(ctx context.Context, userID int64, digest string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users
			SET password = $1, last_login = NOW()
			WHERE id = $2
		`, digest, userID)
		if err != nil {
			return fmt.Errorf("store upgraded password: %w", err)
		}
		if err := expectRows(res, 1, "store upgraded password"); err != nil {
			return ErrUserNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM legacy_passwords WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("drop legacy password: %w", err)
		}
		return nil
	})
}

// SetPassword stores a new digest and records the change time, which
// invalidates signed tokens issued before it.
func (s *Store) SetPassword(ctx context.Context, userID int64, digest string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users
			SET password = $1, last_password_change = NOW()
			WHERE id = $2
		`, digest, userID)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if err := expectRows(res, 1, "update password"); err != nil {
			return ErrUserNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM legacy_passwords WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("drop legacy password: %w", err)
		}
		return nil
	})
}

// SetEmail updates or clears the account email.
func (s *Store) SetEmail(ctx context.Context, userID int64, email *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET email = $1 WHERE id = $2`, email, userID)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if err := expectRows(res, 1, "update email"); err != nil {
		return ErrUserNotFound
	}
	return nil
}

// userIDsByUsername resolves usernames to ids. Any name without an account
// yields ErrUnknownUser.
func userIDsByUsername(ctx context.Context, q querier, usernames []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(usernames))
	if len(usernames) == 0 {
		return ids, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, username
		FROM users
		WHERE username = ANY($1)
	`, pq.Array(usernames))
	if err != nil {
		return nil, fmt.Errorf("resolve usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		ids[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range usernames {
		if _, ok := ids[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUser, name)
		}
	}
	return ids, nil
}
