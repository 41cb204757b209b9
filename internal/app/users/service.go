package users

import (
	"context"

	"github.com/titovtima/songsServer/internal/store"
)

// Store describes the persistence operations required by the user service.
type Store interface {
	UserByID(ctx context.Context, id int64) (store.User, error)
	UserByUsername(ctx context.Context, username string) (store.User, error)
}

// PublicProfile is what anyone may learn about an account.
type PublicProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Service exposes user profile lookups.
type Service interface {
	Me(ctx context.Context, userID int64) (store.User, error)
	Public(ctx context.Context, username string) (PublicProfile, error)
}

type service struct {
	store Store
}

// New wires a Service backed by the provided Store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) Me(ctx context.Context, userID int64) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	if userID == store.Anonymous {
		return store.User{}, store.ErrUnauthorized
	}
	return s.store.UserByID(ctx, userID)
}

func (s *service) Public(ctx context.Context, username string) (PublicProfile, error) {
	if err := ctx.Err(); err != nil {
		return PublicProfile{}, err
	}
	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		return PublicProfile{}, err
	}
	return PublicProfile{ID: user.ID, Username: user.Username}, nil
}
