package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/titovtima/songsServer/internal/store"
)

// Claims carried by signed session tokens.
type Claims struct {
	Username  string `json:"username"`
	UserID    int64  `json:"uid"`
	// CreatedAt is the issue time in milliseconds; iat only carries seconds.
	CreatedAt int64  `json:"created_at"`
	jwt.RegisteredClaims
}

func (s *Service) signJWT(userID int64, username string) (string, error) {
	if len(s.secret) == 0 {
		return "", nil
	}

	now := s.now()
	claims := &Claims{
		Username:  username,
		UserID:    userID,
		CreatedAt: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) authenticateJWT(ctx context.Context, raw string) (int64, error) {
	if len(s.secret) == 0 {
		return 0, ErrUnauthorized
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.IssuedAt == nil {
		return 0, ErrUnauthorized
	}

	user, err := s.store.UserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrUserNotFound) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, err
	}
	if user.Username != claims.Username {
		return 0, ErrUnauthorized
	}
	if claims.CreatedAt <= user.LastPasswordChange.UnixMilli() {
		return 0, ErrUnauthorized
	}
	return user.ID, nil
}
