package artists

import (
	"context"
	"strings"

	"github.com/titovtima/songsServer/internal/store"
)

// Filter narrows the list of returned artists.
type Filter struct {
	Name string
}

// Store exposes the artist queries and the user lookup used for the admin check.
type Store interface {
	ListArtists(ctx context.Context) ([]store.Artist, error)
	GetArtist(ctx context.Context, id int64) (store.Artist, error)
	RenameArtist(ctx context.Context, id int64, name string) (store.Artist, error)
	UserByID(ctx context.Context, id int64) (store.User, error)
}

// Service provides artist-centric operations.
type Service interface {
	List(ctx context.Context, filter Filter) ([]store.Artist, error)
	Get(ctx context.Context, id int64) (store.Artist, error)
	Rename(ctx context.Context, editor, id int64, name string) (store.Artist, error)
}

type service struct {
	store Store
}

// New constructs an artist Service backed by the supplied store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) List(ctx context.Context, filter Filter) ([]store.Artist, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.store.ListArtists(ctx)
	if err != nil {
		return nil, err
	}

	target := strings.ToLower(strings.TrimSpace(filter.Name))
	if target == "" {
		return all, nil
	}

	artists := []store.Artist{}
	for _, artist := range all {
		if strings.Contains(strings.ToLower(artist.Name), target) {
			artists = append(artists, artist)
		}
	}
	return artists, nil
}

func (s *service) Get(ctx context.Context, id int64) (store.Artist, error) {
	if err := ctx.Err(); err != nil {
		return store.Artist{}, err
	}
	return s.store.GetArtist(ctx, id)
}

// Rename is reserved for administrators.
func (s *service) Rename(ctx context.Context, editor, id int64, name string) (store.Artist, error) {
	if err := ctx.Err(); err != nil {
		return store.Artist{}, err
	}
	if editor == store.Anonymous {
		return store.Artist{}, store.ErrUnauthorized
	}

	user, err := s.store.UserByID(ctx, editor)
	if err != nil {
		return store.Artist{}, err
	}
	if !user.IsAdmin {
		return store.Artist{}, store.ErrForbidden
	}
	return s.store.RenameArtist(ctx, id, name)
}
