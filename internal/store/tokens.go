package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrActionTokenInvalid is returned when an action token does not match a
// live record for the given user and action.
var ErrActionTokenInvalid = errors.New("action token invalid")

// Action tokens authorize a single account action.
const (
	ActionPasswordReset = 1
)

// InsertAuthToken stores the digest of a new session token. A digest that is
// already present is refused with ErrTokenCollision.
func (s *Store) InsertAuthToken(ctx context.Context, digest string, userID int64) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (token_digest, user_id)
		VALUES ($1, $2)
		ON CONFLICT (token_digest) DO NOTHING
	`, digest, userID)
	if err != nil {
		return fmt.Errorf("insert auth token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert auth token: %w", err)
	} else if n == 0 {
		return ErrTokenCollision
	}
	return nil
}

// UserIDByAuthToken resolves a session token digest and refreshes its last
// use time.
func (s *Store) UserIDByAuthToken(ctx context.Context, digest string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE auth_tokens
		SET last_used = NOW()
		WHERE token_digest = $1
		RETURNING user_id
	`, digest).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, fmt.Errorf("lookup token: %w", err)
	}
	return userID, nil
}

// DeleteAuthTokens revokes every session token of a user.
func (s *Store) DeleteAuthTokens(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete auth tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete auth tokens: %w", err)
	}
	return n, nil
}

// InsertActionToken stores the digest of a one-time action token.
func (s *Store) InsertActionToken(ctx context.Context, digest string, userID int64, action int) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO action_tokens (token_digest, user_id, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_digest) DO NOTHING
	`, digest, userID, action)
	if err != nil {
		return fmt.Errorf("insert action token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("insert action token: %w", err)
	} else if n == 0 {
		return ErrTokenCollision
	}
	return nil
}

// ConsumeActionToken deletes the matching token if it was created after
// notBefore. The delete is the check, so a token can be consumed once.
func (s *Store) ConsumeActionToken(ctx context.Context, userID int64, digest string, action int, notBefore time.Time) error {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM action_tokens
		WHERE user_id = $1 AND token_digest = $2 AND action = $3 AND created_at > $4
		RETURNING user_id
	`, userID, digest, action, notBefore).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrActionTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("consume action token: %w", err)
	}
	return nil
}

// DeleteExpiredActionTokens removes tokens created at or before cutoff.
func (s *Store) DeleteExpiredActionTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_tokens WHERE created_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired action tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired action tokens: %w", err)
	}
	return n, nil
}
