package auth

import (
	"context"
	"errors"

	"github.com/titovtima/songsServer/internal/credential"
	"github.com/titovtima/songsServer/internal/store"
)

// CreateActionToken issues a one-time token authorizing action for userID.
func (s *Service) CreateActionToken(ctx context.Context, userID int64, action int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.issueToken(ctx, func(digest string) error {
		return s.store.InsertActionToken(ctx, digest, userID, action)
	})
}

// ConsumeActionToken validates and spends a token. It succeeds only when
// user, token and action all match a token younger than a day, and at most
// once per token.
func (s *Service) ConsumeActionToken(ctx context.Context, userID int64, token string, action int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(token) != credential.TokenLength {
		return ErrInvalidActionToken
	}

	notBefore := s.now().Add(-actionTokenTTL)
	err := s.store.ConsumeActionToken(ctx, userID, credential.TokenDigest(token), action, notBefore)
	if errors.Is(err, store.ErrActionTokenInvalid) {
		return ErrInvalidActionToken
	}
	return err
}

// PurgeExpiredActionTokens drops action tokens past their lifetime.
func (s *Service) PurgeExpiredActionTokens(ctx context.Context) error {
	n, err := s.store.DeleteExpiredActionTokens(ctx, s.now().Add(-actionTokenTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug().Int64("purged", n).Msg("expired action tokens removed")
	}
	return nil
}

// RequestPasswordReset mails a reset link to the account's address. Unknown
// users and accounts without an email are accepted silently so the endpoint
// does not reveal which accounts exist.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	user, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.Email == nil || s.mailer == nil {
		s.logger.Debug().Int64("user_id", user.ID).Msg("password recovery skipped: no email")
		return nil
	}

	token, err := s.CreateActionToken(ctx, user.ID, store.ActionPasswordReset)
	if err != nil {
		return err
	}
	return s.mailer.SendPasswordRecovery(ctx, user, token)
}

// ResetPassword spends a reset token, stores the new password and ends
// every session of the account.
func (s *Service) ResetPassword(ctx context.Context, userID int64, token, newPassword string) error {
	if !ValidPassword(newPassword) {
		return ErrInvalidPassword
	}
	if err := s.ConsumeActionToken(ctx, userID, token, store.ActionPasswordReset); err != nil {
		return err
	}
	if err := s.ChangePassword(ctx, userID, newPassword); err != nil {
		return err
	}
	return s.RevokeAllTokens(ctx, userID)
}
