package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrSongNotFound is returned for missing songs and songs the viewer may not read.
	ErrSongNotFound = errors.New("song not found")
	// ErrInvalidSong indicates the payload references data that cannot be stored.
	ErrInvalidSong = errors.New("invalid song")
	// ErrArtistNotFound indicates the requested artist does not exist.
	ErrArtistNotFound = errors.New("artist not found")
)

// PartType tells how the data of a song part is rendered.
type PartType int

// Part types.
const (
	PartText       PartType = 1
	PartChords     PartType = 2
	PartChordsText PartType = 3
)

var partTypeNames = map[PartType]string{
	PartText:       "Text",
	PartChords:     "Chords",
	PartChordsText: "ChordsText",
}

// Valid reports whether t is a known part type.
func (t PartType) Valid() bool {
	_, ok := partTypeNames[t]
	return ok
}

func (t PartType) String() string {
	if name, ok := partTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("PartType(%d)", int(t))
}

// MarshalJSON encodes the part type by name.
func (t PartType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown part type %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either the name or the numeric code.
func (t *PartType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for k, v := range partTypeNames {
			if strings.EqualFold(v, name) {
				*t = k
				return nil
			}
		}
		return fmt.Errorf("unknown part type %q", name)
	}

	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("part type: %w", err)
	}
	if !PartType(code).Valid() {
		return fmt.Errorf("unknown part type %d", code)
	}
	*t = PartType(code)
	return nil
}

// SongPart is one block of lyrics or chords.
type SongPart struct {
	Type PartType `json:"type"`
	Ord  int      `json:"ord"`
	Name *string  `json:"name,omitempty"`
	Data string   `json:"data"`
	Key  *int     `json:"key,omitempty"`
}

// Artist performs songs.
type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Performance is a recording or rendition of a song. An ID of zero or less
// asks for a new id on save, and likewise for its artists.
type Performance struct {
	ID         int64    `json:"id"`
	Artists    []Artist `json:"artists"`
	SongName   *string  `json:"songName,omitempty"`
	Link       *string  `json:"link,omitempty"`
	IsOriginal bool     `json:"isOriginal"`
	IsMain     bool     `json:"isMain"`
	Audio      *string  `json:"audio,omitempty"`
}

// SongInfo is the summary shown in song listings.
type SongInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Public     bool   `json:"public"`
	InMainList bool   `json:"inMainList"`
}

// Song is a full song with its parts and performances.
type Song struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Extra        *string       `json:"extra,omitempty"`
	Key          *int          `json:"key,omitempty"`
	Owner        string        `json:"owner"`
	Public       bool          `json:"public"`
	InMainList   bool          `json:"inMainList"`
	Parts        []SongPart    `json:"parts"`
	Performances []Performance `json:"performances"`
}

// SongRights is the rights payload of a song.
type SongRights struct {
	SongID int64 `json:"songId"`
	Rights
}

func validateSong(song Song) error {
	if strings.TrimSpace(song.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSong)
	}
	for _, p := range song.Parts {
		if !p.Type.Valid() {
			return fmt.Errorf("%w: unknown part type %d", ErrInvalidSong, int(p.Type))
		}
	}
	for _, perf := range song.Performances {
		for _, a := range perf.Artists {
			if a.ID <= 0 && strings.TrimSpace(a.Name) == "" {
				return fmt.Errorf("%w: new artist needs a name", ErrInvalidSong)
			}
		}
	}
	return nil
}

// ListSongs returns the songs viewer may read, optionally only those shown
// in the main list.
func (s *Store) ListSongs(ctx context.Context, viewer int64, mainOnly bool) ([]SongInfo, error) {
	query := `
		SELECT s.id, s.name, s.public, s.in_main_list
		FROM song s
		WHERE ` + songTables.readablePredicate("s")
	if mainOnly {
		query += ` AND s.in_main_list`
	}
	query += ` ORDER BY s.name, s.id`

	return querySongInfos(ctx, s.db, query, viewer)
}

func querySongInfos(ctx context.Context, q querier, query string, args ...any) ([]SongInfo, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer rows.Close()

	songs := []SongInfo{}
	for rows.Next() {
		var info SongInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Public, &info.InMainList); err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		songs = append(songs, info)
	}
	return songs, rows.Err()
}

// GetSong loads a song viewer may read.
func (s *Store) GetSong(ctx context.Context, viewer, id int64) (Song, error) {
	return getSong(ctx, s.db, viewer, id)
}

func getSong(ctx context.Context, q querier, viewer, id int64) (Song, error) {
	var (
		song  Song
		extra sql.NullString
		key   sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT s.id, s.name, s.extra, s.key, u.username, s.public, s.in_main_list
		FROM song s
		JOIN users u ON u.id = s.owner_id
		WHERE s.id = $2 AND `+songTables.readablePredicate("s"),
		viewer, id).Scan(&song.ID, &song.Name, &extra, &key, &song.Owner, &song.Public, &song.InMainList)
	if errors.Is(err, sql.ErrNoRows) {
		return Song{}, ErrSongNotFound
	}
	if err != nil {
		return Song{}, fmt.Errorf("load song %d: %w", id, err)
	}
	if extra.Valid {
		song.Extra = &extra.String
	}
	if key.Valid {
		k := int(key.Int64)
		song.Key = &k
	}

	if song.Parts, err = loadParts(ctx, q, id); err != nil {
		return Song{}, err
	}
	if song.Performances, err = loadPerformances(ctx, q, id); err != nil {
		return Song{}, err
	}
	return song, nil
}

func loadParts(ctx context.Context, q querier, songID int64) ([]SongPart, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT type, ord, name, data, key
		FROM song_part
		WHERE song_id = $1
		ORDER BY ord
	`, songID)
	if err != nil {
		return nil, fmt.Errorf("load song parts: %w", err)
	}
	defer rows.Close()

	parts := []SongPart{}
	for rows.Next() {
		var (
			p    SongPart
			name sql.NullString
			key  sql.NullInt64
		)
		if err := rows.Scan(&p.Type, &p.Ord, &name, &p.Data, &key); err != nil {
			return nil, fmt.Errorf("scan song part: %w", err)
		}
		if name.Valid {
			p.Name = &name.String
		}
		if key.Valid {
			k := int(key.Int64)
			p.Key = &k
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func loadPerformances(ctx context.Context, q querier, songID int64) ([]Performance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, song_name, link, is_original, is_main, audio_uuid
		FROM song_performance
		WHERE song_id = $1
		ORDER BY id
	`, songID)
	if err != nil {
		return nil, fmt.Errorf("load performances: %w", err)
	}
	defer rows.Close()

	perfs := []Performance{}
	index := map[int64]int{}
	for rows.Next() {
		var (
			p                     Performance
			songName, link, audio sql.NullString
		)
		if err := rows.Scan(&p.ID, &songName, &link, &p.IsOriginal, &p.IsMain, &audio); err != nil {
			return nil, fmt.Errorf("scan performance: %w", err)
		}
		if songName.Valid {
			p.SongName = &songName.String
		}
		if link.Valid {
			p.Link = &link.String
		}
		if audio.Valid {
			p.Audio = &audio.String
		}
		p.Artists = []Artist{}
		index[p.ID] = len(perfs)
		perfs = append(perfs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(perfs) == 0 {
		return perfs, nil
	}

	artistRows, err := q.QueryContext(ctx, `
		SELECT pa.performance_id, a.id, a.name
		FROM performance_artist pa
		JOIN artist a ON a.id = pa.artist_id
		JOIN song_performance p ON p.id = pa.performance_id
		WHERE p.song_id = $1
		ORDER BY a.id
	`, songID)
	if err != nil {
		return nil, fmt.Errorf("load performance artists: %w", err)
	}
	defer artistRows.Close()

	for artistRows.Next() {
		var (
			perfID int64
			a      Artist
		)
		if err := artistRows.Scan(&perfID, &a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scan performance artist: %w", err)
		}
		if i, ok := index[perfID]; ok {
			perfs[i].Artists = append(perfs[i].Artists, a)
		}
	}
	return perfs, artistRows.Err()
}

// assignIDs draws ids for new performances and artists. It runs before the
// write transaction opens so counter rows are never locked behind it.
func (s *Store) assignIDs(ctx context.Context, song *Song) (map[int64]bool, error) {
	newArtists := map[int64]bool{}
	for i := range song.Performances {
		perf := &song.Performances[i]
		if perf.ID <= 0 {
			id, err := s.NextID(ctx, SeqPerformance)
			if err != nil {
				return nil, err
			}
			perf.ID = id
		}
		for j := range perf.Artists {
			artist := &perf.Artists[j]
			if artist.ID > 0 {
				continue
			}
			id, err := s.NextID(ctx, SeqArtist)
			if err != nil {
				return nil, err
			}
			artist.ID = id
			newArtists[id] = true
		}
	}
	return newArtists, nil
}

// writeSongContent replaces parts and performances of a song and attaches
// referenced audio to it.
func writeSongContent(ctx context.Context, tx *sql.Tx, song Song, newArtists map[int64]bool) error {
	if err := attachAudio(ctx, tx, song); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM song_part WHERE song_id = $1`, song.ID); err != nil {
		return fmt.Errorf("clear song parts: %w", err)
	}
	for _, p := range song.Parts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO song_part (song_id, type, ord, name, data, key)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, song.ID, int(p.Type), p.Ord, p.Name, p.Data, p.Key); err != nil {
			return fmt.Errorf("insert song part: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM song_performance WHERE song_id = $1`, song.ID); err != nil {
		return fmt.Errorf("clear performances: %w", err)
	}
	for _, perf := range song.Performances {
		for _, a := range perf.Artists {
			if !newArtists[a.ID] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO artist (id, name) VALUES ($1, $2)`, a.ID, strings.TrimSpace(a.Name)); err != nil {
				return fmt.Errorf("insert artist: %w", err)
			}
			delete(newArtists, a.ID)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO song_performance (id, song_id, song_name, link, is_original, is_main, audio_uuid)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, perf.ID, song.ID, perf.SongName, perf.Link, perf.IsOriginal, perf.IsMain, perf.Audio); err != nil {
			if isUniqueViolation(err) || isForeignKeyViolation(err) {
				return fmt.Errorf("%w: performance %d: %v", ErrInvalidSong, perf.ID, err)
			}
			return fmt.Errorf("insert performance: %w", err)
		}

		artistIDs := make([]int64, 0, len(perf.Artists))
		for _, a := range perf.Artists {
			artistIDs = append(artistIDs, a.ID)
		}
		artistIDs = dedupeIDs(artistIDs)
		if len(artistIDs) == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO performance_artist (performance_id, artist_id)
			SELECT $1, unnest($2::bigint[])
		`, perf.ID, pq.Array(artistIDs)); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown artist: %v", ErrInvalidSong, err)
			}
			return fmt.Errorf("insert performance artists: %w", err)
		}
	}
	return nil
}

// attachAudio binds every audio referenced by the song's performances to it.
// Each referenced audio must exist.
func attachAudio(ctx context.Context, tx *sql.Tx, song Song) error {
	var uuids []string
	for _, perf := range song.Performances {
		if perf.Audio != nil {
			uuids = append(uuids, *perf.Audio)
		}
	}
	uuids = dedupeStrings(uuids)
	if len(uuids) == 0 {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE song_audio
		SET song_id = $1
		WHERE uuid = ANY($2)
	`, song.ID, pq.Array(uuids))
	if err != nil {
		return fmt.Errorf("attach audio: %w", err)
	}
	if err := expectRows(res, int64(len(uuids)), "attach audio"); err != nil {
		return fmt.Errorf("%w: unknown audio", ErrInvalidSong)
	}
	return nil
}

// CreateSong stores a new song owned by owner and returns it as saved.
func (s *Store) CreateSong(ctx context.Context, owner int64, song Song) (Song, error) {
	if err := validateSong(song); err != nil {
		return Song{}, err
	}

	id, err := s.NextID(ctx, SeqSong)
	if err != nil {
		return Song{}, err
	}
	song.ID = id
	newArtists, err := s.assignIDs(ctx, &song)
	if err != nil {
		return Song{}, err
	}

	var created Song
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO song (id, name, extra, key, owner_id, public, in_main_list)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, song.ID, strings.TrimSpace(song.Name), song.Extra, song.Key, owner, song.Public, song.InMainList); err != nil {
			return fmt.Errorf("insert song: %w", err)
		}
		if err := writeSongContent(ctx, tx, song, newArtists); err != nil {
			return err
		}
		created, err = getSong(ctx, tx, owner, song.ID)
		return err
	})
	if err != nil {
		return Song{}, err
	}
	return created, nil
}

// UpdateSong replaces the content of an existing song on behalf of editor.
func (s *Store) UpdateSong(ctx context.Context, editor int64, song Song) (Song, error) {
	if err := validateSong(song); err != nil {
		return Song{}, err
	}

	a, err := songTables.loadAccess(ctx, s.db, editor, song.ID, ErrSongNotFound)
	if err != nil {
		return Song{}, err
	}
	if !a.readable() {
		return Song{}, ErrSongNotFound
	}
	if !a.writable() {
		return Song{}, ErrForbidden
	}

	newArtists, err := s.assignIDs(ctx, &song)
	if err != nil {
		return Song{}, err
	}

	var updated Song
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE song
			SET name = $1, extra = $2, key = $3, public = $4, in_main_list = $5, updated_at = NOW()
			WHERE id = $6
		`, strings.TrimSpace(song.Name), song.Extra, song.Key, song.Public, song.InMainList, song.ID)
		if err != nil {
			return fmt.Errorf("update song: %w", err)
		}
		if err := expectRows(res, 1, "update song"); err != nil {
			return ErrSongNotFound
		}
		if err := writeSongContent(ctx, tx, song, newArtists); err != nil {
			return err
		}
		updated, err = getSong(ctx, tx, editor, song.ID)
		return err
	})
	if err != nil {
		return Song{}, err
	}
	return updated, nil
}

// DeleteSong removes a song. Only its owner or an admin may do so.
func (s *Store) DeleteSong(ctx context.Context, editor, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := songTables.loadAccess(ctx, tx, editor, id, ErrSongNotFound)
		if err != nil {
			return err
		}
		if !a.readable() {
			return ErrSongNotFound
		}
		if !a.manageable() {
			return ErrForbidden
		}
		// Audio goes with the song; left behind it would read as unattached.
		if _, err := tx.ExecContext(ctx, `DELETE FROM song_audio WHERE song_id = $1`, id); err != nil {
			return fmt.Errorf("delete song audio: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM song WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete song: %w", err)
		}
		return nil
	})
}

// CanWriteSong reports whether editor may change the song. Unreadable songs
// yield ErrSongNotFound.
func (s *Store) CanWriteSong(ctx context.Context, editor, id int64) (bool, error) {
	a, err := songTables.loadAccess(ctx, s.db, editor, id, ErrSongNotFound)
	if err != nil {
		return false, err
	}
	if !a.readable() {
		return false, ErrSongNotFound
	}
	return a.writable(), nil
}

// CanReadSong reports whether viewer may read the song.
func (s *Store) CanReadSong(ctx context.Context, viewer, id int64) (bool, error) {
	a, err := songTables.loadAccess(ctx, s.db, viewer, id, ErrSongNotFound)
	if errors.Is(err, ErrSongNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.readable(), nil
}

// GetSongRights returns the rights of a song to someone who may edit it.
func (s *Store) GetSongRights(ctx context.Context, viewer, id int64) (SongRights, error) {
	r, err := s.getRights(ctx, songTables, viewer, id, ErrSongNotFound)
	if err != nil {
		return SongRights{}, err
	}
	return SongRights{SongID: id, Rights: r}, nil
}

// SetSongRights replaces readers, writers and owner of a song.
func (s *Store) SetSongRights(ctx context.Context, editor int64, rights SongRights) (SongRights, error) {
	r, err := s.setRights(ctx, songTables, editor, rights.SongID, rights.Rights, ErrSongNotFound)
	if err != nil {
		return SongRights{}, err
	}
	return SongRights{SongID: rights.SongID, Rights: r}, nil
}

// ListArtists returns every artist ordered by name.
func (s *Store) ListArtists(ctx context.Context) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM artist ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list artists: %w", err)
	}
	defer rows.Close()

	artists := []Artist{}
	for rows.Next() {
		var a Artist
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// GetArtist loads a single artist.
func (s *Store) GetArtist(ctx context.Context, id int64) (Artist, error) {
	a := Artist{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM artist WHERE id = $1`, id).Scan(&a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Artist{}, ErrArtistNotFound
	}
	if err != nil {
		return Artist{}, fmt.Errorf("load artist %d: %w", id, err)
	}
	return a, nil
}

// RenameArtist changes an artist's name.
func (s *Store) RenameArtist(ctx context.Context, id int64, name string) (Artist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Artist{}, fmt.Errorf("%w: artist name is required", ErrInvalidSong)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE artist SET name = $1 WHERE id = $2`, name, id)
	if err != nil {
		return Artist{}, fmt.Errorf("rename artist: %w", err)
	}
	if err := expectRows(res, 1, "rename artist"); err != nil {
		return Artist{}, ErrArtistNotFound
	}
	return Artist{ID: id, Name: name}, nil
}
