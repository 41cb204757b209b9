package audio

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/store"
)

var (
	// ErrEmptyAudio rejects uploads without content.
	ErrEmptyAudio = errors.New("audio body is empty")
	// ErrUpload means the object store refused the upload.
	ErrUpload = errors.New("audio upload failed")
)

// Store captures the audio records and song access checks.
type Store interface {
	CreateAudio(ctx context.Context, songID *int64) (string, error)
	DeleteAudio(ctx context.Context, id string) error
	AudioSong(ctx context.Context, id string) (*int64, error)
	CanWriteSong(ctx context.Context, editor, id int64) (bool, error)
	CanReadSong(ctx context.Context, viewer, id int64) (bool, error)
}

// Blobs holds audio content, usually the disk cache in front of S3.
type Blobs interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, data []byte, meta map[string]string) error
}

// Service uploads and serves song audio.
type Service interface {
	Upload(ctx context.Context, userID int64, songID *int64, data []byte) (string, error)
	Download(ctx context.Context, viewer int64, id string) ([]byte, error)
}

type service struct {
	store  Store
	blobs  Blobs
	logger zerolog.Logger
}

// New constructs an audio Service.
func New(store Store, blobs Blobs, logger zerolog.Logger) Service {
	return &service{store: store, blobs: blobs, logger: logger}
}

// Upload stores data as a new audio object. Attaching it to a song requires
// write access to that song. The record is dropped again when the upload
// fails.
func (s *service) Upload(ctx context.Context, userID int64, songID *int64, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if userID == store.Anonymous {
		return "", store.ErrUnauthorized
	}
	if len(data) == 0 {
		return "", ErrEmptyAudio
	}

	meta := map[string]string{"uploaded-by": strconv.FormatInt(userID, 10)}
	if songID != nil {
		ok, err := s.store.CanWriteSong(ctx, userID, *songID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", store.ErrForbidden
		}
		meta["song-id"] = strconv.FormatInt(*songID, 10)
	}

	id, err := s.store.CreateAudio(ctx, songID)
	if err != nil {
		return "", err
	}

	if err := s.blobs.Put(ctx, id, data, meta); err != nil {
		if derr := s.store.DeleteAudio(context.WithoutCancel(ctx), id); derr != nil {
			s.logger.Error().Err(derr).Str("audio_id", id).Msg("drop audio record after failed upload")
		}
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return id, nil
}

// Download returns audio the viewer may hear. Audio attached to a song is
// visible only to readers of that song; anything not visible is reported as
// store.ErrAudioNotFound.
func (s *service) Download(ctx context.Context, viewer int64, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrAudioNotFound
	}

	songID, err := s.store.AudioSong(ctx, id)
	if err != nil {
		return nil, err
	}
	if songID != nil {
		ok, err := s.store.CanReadSong(ctx, viewer, *songID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, store.ErrAudioNotFound
		}
	}

	data, err := s.blobs.Get(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("audio_id", id).Msg("audio content unavailable")
		return nil, store.ErrAudioNotFound
	}
	return data, nil
}
