package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrAudioNotFound indicates no audio record exists for an id.
var ErrAudioNotFound = errors.New("audio not found")

const audioIDAttempts = 10

// CreateAudio registers a new audio object, optionally bound to a song, and
// returns its id.
func (s *Store) CreateAudio(ctx context.Context, songID *int64) (string, error) {
	for attempt := 0; attempt < audioIDAttempts; attempt++ {
		id := uuid.NewString()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO song_audio (uuid, song_id)
			VALUES ($1, $2)
		`, id, songID)
		if err == nil {
			return id, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		if isForeignKeyViolation(err) {
			return "", ErrSongNotFound
		}
		return "", fmt.Errorf("insert audio: %w", err)
	}
	return "", fmt.Errorf("insert audio: no free id after %d attempts", audioIDAttempts)
}

// DeleteAudio drops an audio record. Used when the upload that created it
// failed.
func (s *Store) DeleteAudio(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM song_audio WHERE uuid = $1`, id); err != nil {
		return fmt.Errorf("delete audio: %w", err)
	}
	return nil
}

// AudioSong returns the song an audio object belongs to, or nil when it is
// not attached to any song.
func (s *Store) AudioSong(ctx context.Context, id string) (*int64, error) {
	var songID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT song_id FROM song_audio WHERE uuid = $1`, id).Scan(&songID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAudioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load audio %s: %w", id, err)
	}
	if !songID.Valid {
		return nil, nil
	}
	return &songID.Int64, nil
}
