package lists

import (
	"context"

	"github.com/titovtima/songsServer/internal/store"
)

// Store captures the persistence needs for song list workflows.
type Store interface {
	ListLists(ctx context.Context, viewer int64) ([]store.ListInfo, error)
	GetList(ctx context.Context, viewer, id int64) (store.List, error)
	GetFullList(ctx context.Context, viewer, id int64) (store.FullList, error)
	CreateList(ctx context.Context, owner int64, in store.ListInput) (store.List, error)
	UpdateList(ctx context.Context, editor int64, in store.ListInput) (store.List, error)
	DeleteList(ctx context.Context, editor, id int64) error
	GetListRights(ctx context.Context, viewer, id int64) (store.ListRights, error)
	SetListRights(ctx context.Context, editor int64, rights store.ListRights) (store.ListRights, error)
}

// Service coordinates song list operations.
type Service interface {
	List(ctx context.Context, viewer int64) ([]store.ListInfo, error)
	Get(ctx context.Context, viewer, id int64) (store.List, error)
	GetFull(ctx context.Context, viewer, id int64) (store.FullList, error)
	Create(ctx context.Context, owner int64, in store.ListInput) (store.List, error)
	Update(ctx context.Context, editor int64, in store.ListInput) (store.List, error)
	Delete(ctx context.Context, editor, id int64) error
	Rights(ctx context.Context, viewer, id int64) (store.ListRights, error)
	SetRights(ctx context.Context, editor int64, rights store.ListRights) (store.ListRights, error)
}

type service struct {
	store Store
}

// New constructs a Service backed by the provided Store.
func New(store Store) Service {
	return &service{store: store}
}

func (s *service) List(ctx context.Context, viewer int64) ([]store.ListInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.ListLists(ctx, viewer)
}

func (s *service) Get(ctx context.Context, viewer, id int64) (store.List, error) {
	if err := ctx.Err(); err != nil {
		return store.List{}, err
	}
	return s.store.GetList(ctx, viewer, id)
}

func (s *service) GetFull(ctx context.Context, viewer, id int64) (store.FullList, error) {
	if err := ctx.Err(); err != nil {
		return store.FullList{}, err
	}
	return s.store.GetFullList(ctx, viewer, id)
}

func (s *service) Create(ctx context.Context, owner int64, in store.ListInput) (store.List, error) {
	if err := ctx.Err(); err != nil {
		return store.List{}, err
	}
	if owner == store.Anonymous {
		return store.List{}, store.ErrUnauthorized
	}
	return s.store.CreateList(ctx, owner, in)
}

func (s *service) Update(ctx context.Context, editor int64, in store.ListInput) (store.List, error) {
	if err := ctx.Err(); err != nil {
		return store.List{}, err
	}
	return s.store.UpdateList(ctx, editor, in)
}

func (s *service) Delete(ctx context.Context, editor, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.DeleteList(ctx, editor, id)
}

func (s *service) Rights(ctx context.Context, viewer, id int64) (store.ListRights, error) {
	if err := ctx.Err(); err != nil {
		return store.ListRights{}, err
	}
	return s.store.GetListRights(ctx, viewer, id)
}

func (s *service) SetRights(ctx context.Context, editor int64, rights store.ListRights) (store.ListRights, error) {
	if err := ctx.Err(); err != nil {
		return store.ListRights{}, err
	}
	return s.store.SetListRights(ctx, editor, rights)
}
