package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrListNotFound is returned for missing lists and lists the viewer may not read.
	ErrListNotFound = errors.New("songs list not found")
	// ErrInvalidList indicates the payload cannot be stored.
	ErrInvalidList = errors.New("invalid songs list")
)

// ListInfo describes a songs list without its songs.
type ListInfo struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Owner  string `json:"owner"`
	Public bool   `json:"public"`
}

// List is a songs list with summaries of the songs the viewer may read.
type List struct {
	ListInfo
	Songs []SongInfo `json:"list"`
}

// FullList is a songs list with every readable song loaded in full.
type FullList struct {
	ListInfo
	Songs []Song `json:"list"`
}

// ListInput is the editable part of a songs list. Songs holds song ids in
// no particular order.
type ListInput struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Public bool    `json:"public"`
	Songs  []int64 `json:"list"`
}

// ListRights is the rights payload of a songs list.
type ListRights struct {
	ListID int64 `json:"listId"`
	Rights
}

// ListLists returns the lists viewer may read.
func (s *Store) ListLists(ctx context.Context, viewer int64) ([]ListInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.name, u.username, l.public
		FROM songs_list l
		JOIN users u ON u.id = l.owner_id
		WHERE `+listTables.readablePredicate("l")+`
		ORDER BY l.name, l.id
	`, viewer)
	if err != nil {
		return nil, fmt.Errorf("list songs lists: %w", err)
	}
	defer rows.Close()

	lists := []ListInfo{}
	for rows.Next() {
		var info ListInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Owner, &info.Public); err != nil {
			return nil, fmt.Errorf("scan songs list: %w", err)
		}
		lists = append(lists, info)
	}
	return lists, rows.Err()
}

func getListInfo(ctx context.Context, q querier, viewer, id int64) (ListInfo, error) {
	var info ListInfo
	err := q.QueryRowContext(ctx, `
		SELECT l.id, l.name, u.username, l.public
		FROM songs_list l
		JOIN users u ON u.id = l.owner_id
		WHERE l.id = $2 AND `+listTables.readablePredicate("l"),
		viewer, id).Scan(&info.ID, &info.Name, &info.Owner, &info.Public)
	if errors.Is(err, sql.ErrNoRows) {
		return ListInfo{}, ErrListNotFound
	}
	if err != nil {
		return ListInfo{}, fmt.Errorf("load songs list %d: %w", id, err)
	}
	return info, nil
}

// listSongs returns the songs of a list that viewer may read. Songs hidden
// from the viewer are left out.
func listSongs(ctx context.Context, q querier, viewer, id int64) ([]SongInfo, error) {
	return querySongInfos(ctx, q, `
		SELECT s.id, s.name, s.public, s.in_main_list
		FROM song s
		JOIN song_in_list sl ON sl.song_id = s.id
		WHERE sl.list_id = $2 AND `+songTables.readablePredicate("s")+`
		ORDER BY s.name, s.id
	`, viewer, id)
}

func getList(ctx context.Context, q querier, viewer, id int64) (List, error) {
	info, err := getListInfo(ctx, q, viewer, id)
	if err != nil {
		return List{}, err
	}
	songs, err := listSongs(ctx, q, viewer, id)
	if err != nil {
		return List{}, err
	}
	return List{ListInfo: info, Songs: songs}, nil
}

// GetList loads a list with its song summaries.
func (s *Store) GetList(ctx context.Context, viewer, id int64) (List, error) {
	return getList(ctx, s.db, viewer, id)
}

// GetFullList loads a list with every readable song in full.
func (s *Store) GetFullList(ctx context.Context, viewer, id int64) (FullList, error) {
	list, err := s.GetList(ctx, viewer, id)
	if err != nil {
		return FullList{}, err
	}

	full := FullList{ListInfo: list.ListInfo, Songs: make([]Song, 0, len(list.Songs))}
	for _, info := range list.Songs {
		song, err := s.GetSong(ctx, viewer, info.ID)
		if errors.Is(err, ErrSongNotFound) {
			continue
		}
		if err != nil {
			return FullList{}, err
		}
		full.Songs = append(full.Songs, song)
	}
	return full, nil
}

// replaceListSongs makes the membership of a list equal to songIDs.
func replaceListSongs(ctx context.Context, tx *sql.Tx, listID int64, songIDs []int64) error {
	songIDs = dedupeIDs(songIDs)
	if len(songIDs) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM song_in_list WHERE list_id = $1`, listID); err != nil {
			return fmt.Errorf("clear list songs: %w", err)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM song_in_list
		WHERE list_id = $1 AND NOT (song_id = ANY($2))
	`, listID, pq.Array(songIDs)); err != nil {
		return fmt.Errorf("remove list songs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO song_in_list (song_id, list_id)
		SELECT unnest($1::bigint[]), $2
		ON CONFLICT DO NOTHING
	`, pq.Array(songIDs), listID); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: unknown song", ErrInvalidList)
		}
		return fmt.Errorf("add list songs: %w", err)
	}
	return nil
}

// CreateList stores a new list owned by owner.
func (s *Store) CreateList(ctx context.Context, owner int64, in ListInput) (List, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return List{}, fmt.Errorf("%w: name is required", ErrInvalidList)
	}

	id, err := s.NextID(ctx, SeqSongsList)
	if err != nil {
		return List{}, err
	}

	var created List
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO songs_list (id, name, public, owner_id)
			VALUES ($1, $2, $3, $4)
		`, id, name, in.Public, owner); err != nil {
			return fmt.Errorf("insert songs list: %w", err)
		}
		if err := replaceListSongs(ctx, tx, id, in.Songs); err != nil {
			return err
		}
		created, err = getList(ctx, tx, owner, id)
		return err
	})
	if err != nil {
		return List{}, err
	}
	return created, nil
}

// UpdateList changes name, visibility and songs of a list on behalf of editor.
func (s *Store) UpdateList(ctx context.Context, editor int64, in ListInput) (List, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return List{}, fmt.Errorf("%w: name is required", ErrInvalidList)
	}

	var updated List
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := listTables.loadAccess(ctx, tx, editor, in.ID, ErrListNotFound)
		if err != nil {
			return err
		}
		if !a.readable() {
			return ErrListNotFound
		}
		if !a.writable() {
			return ErrForbidden
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE songs_list
			SET name = $1, public = $2
			WHERE id = $3
		`, name, in.Public, in.ID); err != nil {
			return fmt.Errorf("update songs list: %w", err)
		}
		if err := replaceListSongs(ctx, tx, in.ID, in.Songs); err != nil {
			return err
		}
		updated, err = getList(ctx, tx, editor, in.ID)
		return err
	})
	if err != nil {
		return List{}, err
	}
	return updated, nil
}

// DeleteList removes a list. Only its owner or an admin may do so.
func (s *Store) DeleteList(ctx context.Context, editor, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := listTables.loadAccess(ctx, tx, editor, id, ErrListNotFound)
		if err != nil {
			return err
		}
		if !a.readable() {
			return ErrListNotFound
		}
		if !a.manageable() {
			return ErrForbidden
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM songs_list WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete songs list: %w", err)
		}
		return nil
	})
}

// GetListRights returns the rights of a list to someone who may edit it.
func (s *Store) GetListRights(ctx context.Context, viewer, id int64) (ListRights, error) {
	r, err := s.getRights(ctx, listTables, viewer, id, ErrListNotFound)
	if err != nil {
		return ListRights{}, err
	}
	return ListRights{ListID: id, Rights: r}, nil
}

// SetListRights replaces readers, writers and owner of a list.
func (s *Store) SetListRights(ctx context.Context, editor int64, rights ListRights) (ListRights, error) {
	r, err := s.setRights(ctx, listTables, editor, rights.ListID, rights.Rights, ErrListNotFound)
	if err != nil {
		return ListRights{}, err
	}
	return ListRights{ListID: rights.ListID, Rights: r}, nil
}
