package songs

import (
	"context"

	"github.com/titovtima/songsServer/internal/store"
)

// Store captures the persistence needs for song workflows.
type Store interface {
	ListSongs(ctx context.Context, viewer int64, mainOnly bool) ([]store.SongInfo, error)
	GetSong(ctx context.Context, viewer, id int64) (store.Song, error)
	CreateSong(ctx context.Context, owner int64, song store.Song) (store.Song, error)
	UpdateSong(ctx context.Context, editor int64, song store.Song) (store.Song, error)
	DeleteSong(ctx context.Context, editor, id int64) error
	GetSongRights(ctx context.Context, viewer, id int64) (store.SongRights, error)
	SetSongRights(ctx context.Context, editor int64, rights store.SongRights) (store.SongRights, error)
}

// Service exposes song-centric operations. Viewer ids of store.Anonymous
// stand for unauthenticated callers.
type Service interface {
	List(ctx context.Context, viewer int64, mainOnly bool) ([]store.SongInfo, error)
	Get(ctx context.Context, viewer, id int64) (store.Song, error)
	Create(ctx context.Context, owner int64, song store.Song) (store.Song, error)
	Update(ctx context.Context, editor int64, song store.Song) (store.Song, error)
	Delete(ctx context.Context, editor, id int64) error
	Rights(ctx context.Context, viewer, id int64) (store.SongRights, error)
	SetRights(ctx context.Context, editor int64, rights store.SongRights) (store.SongRights, error)
}

type service struct {
	store Store
}

// New constructs a song Service backed by the provided Store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) List(ctx context.Context, viewer int64, mainOnly bool) ([]store.SongInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListSongs(ctx, viewer, mainOnly)
}

func (s *service) Get(ctx context.Context, viewer, id int64) (store.Song, error) {
	if err := ctx.Err(); err != nil {
		return store.Song{}, err
	}
	return s.store.GetSong(ctx, viewer, id)
}

func (s *service) Create(ctx context.Context, owner int64, song store.Song) (store.Song, error) {
	if err := ctx.Err(); err != nil {
		return store.Song{}, err
	}
	if owner == store.Anonymous {
		return store.Song{}, store.ErrUnauthorized
	}
	return s.store.CreateSong(ctx, owner, song)
}

func (s *service) Update(ctx context.Context, editor int64, song store.Song) (store.Song, error) {
	if err := ctx.Err(); err != nil {
		return store.Song{}, err
	}
	return s.store.UpdateSong(ctx, editor, song)
}

func (s *service) Delete(ctx context.Context, editor, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.DeleteSong(ctx, editor, id)
}

func (s *service) Rights(ctx context.Context, viewer, id int64) (store.SongRights, error) {
	if err := ctx.Err(); err != nil {
		return store.SongRights{}, err
	}
	return s.store.GetSongRights(ctx, viewer, id)
}

func (s *service) SetRights(ctx context.Context, editor int64, rights store.SongRights) (store.SongRights, error) {
	if err := ctx.Err(); err != nil {
		return store.SongRights{}, err
	}
	return s.store.SetSongRights(ctx, editor, rights)
}
