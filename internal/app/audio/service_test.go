package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/titovtima/songsServer/internal/store"
)

const audioID = "0b5c6f7e-5a8c-4b1e-9f3d-2a7c1e4d8b90"

type stubStore struct {
	writable map[int64]bool
	readable map[int64]bool
	audio    map[string]*int64
	created  []*int64
	deleted  []string
}

func newStubStore() *stubStore {
	return &stubStore{
		writable: map[int64]bool{},
		readable: map[int64]bool{},
		audio:    map[string]*int64{},
	}
}

func (s *stubStore) CreateAudio(_ context.Context, songID *int64) (string, error) {
	s.created = append(s.created, songID)
	s.audio[audioID] = songID
	return audioID, nil
}

func (s *stubStore) DeleteAudio(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	delete(s.audio, id)
	return nil
}

func (s *stubStore) AudioSong(_ context.Context, id string) (*int64, error) {
	songID, ok := s.audio[id]
	if !ok {
		return nil, store.ErrAudioNotFound
	}
	return songID, nil
}

func (s *stubStore) CanWriteSong(_ context.Context, _ int64, id int64) (bool, error) {
	if !s.readable[id] {
		return false, store.ErrSongNotFound
	}
	return s.writable[id], nil
}

func (s *stubStore) CanReadSong(_ context.Context, _ int64, id int64) (bool, error) {
	return s.readable[id], nil
}

type stubBlobs struct {
	data    map[string][]byte
	meta    map[string]string
	failPut error
}

func (b *stubBlobs) Get(_ context.Context, id string) ([]byte, error) {
	data, ok := b.data[id]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func (b *stubBlobs) Put(_ context.Context, id string, data []byte, meta map[string]string) error {
	if b.failPut != nil {
		return b.failPut
	}
	b.data[id] = data
	b.meta = meta
	return nil
}

func songID(id int64) *int64 { return &id }

func TestUploadChecksSongAccess(t *testing.T) {
	tests := []struct {
		name     string
		user     int64
		song     *int64
		readable bool
		writable bool
		wantErr  error
	}{
		{name: "anonymous", user: store.Anonymous, wantErr: store.ErrUnauthorized},
		{name: "detached", user: 3},
		{name: "writer", user: 3, song: songID(7), readable: true, writable: true},
		{name: "reader only", user: 3, song: songID(7), readable: true, wantErr: store.ErrForbidden},
		{name: "hidden song", user: 3, song: songID(7), wantErr: store.ErrSongNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStubStore()
			st.readable[7] = tt.readable
			st.writable[7] = tt.writable
			blobs := &stubBlobs{data: map[string][]byte{}}
			svc := New(st, blobs, zerolog.Nop())

			id, err := svc.Upload(context.Background(), tt.user, tt.song, []byte("mp3"))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Empty(t, st.created)
				return
			}
			require.NoError(t, err)
			require.Equal(t, audioID, id)
			require.Equal(t, []byte("mp3"), blobs.data[id])
			if tt.song != nil {
				require.Equal(t, "7", blobs.meta["song-id"])
			}
		})
	}
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	svc := New(newStubStore(), &stubBlobs{data: map[string][]byte{}}, zerolog.Nop())
	_, err := svc.Upload(context.Background(), 3, nil, nil)
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestUploadFailureDropsRecord(t *testing.T) {
	st := newStubStore()
	blobs := &stubBlobs{data: map[string][]byte{}, failPut: errors.New("bucket gone")}
	svc := New(st, blobs, zerolog.Nop())

	_, err := svc.Upload(context.Background(), 3, nil, []byte("mp3"))
	require.ErrorIs(t, err, ErrUpload)
	require.Equal(t, []string{audioID}, st.deleted)
	require.NotContains(t, st.audio, audioID)
}

func TestDownloadFollowsSongVisibility(t *testing.T) {
	st := newStubStore()
	blobs := &stubBlobs{data: map[string][]byte{audioID: []byte("mp3")}}
	svc := New(st, blobs, zerolog.Nop())

	_, err := svc.Download(context.Background(), store.Anonymous, "not-a-uuid")
	require.ErrorIs(t, err, store.ErrAudioNotFound)

	_, err = svc.Download(context.Background(), store.Anonymous, audioID)
	require.ErrorIs(t, err, store.ErrAudioNotFound)

	st.audio[audioID] = nil
	data, err := svc.Download(context.Background(), store.Anonymous, audioID)
	require.NoError(t, err)
	require.Equal(t, []byte("mp3"), data)

	st.audio[audioID] = songID(7)
	_, err = svc.Download(context.Background(), 4, audioID)
	require.ErrorIs(t, err, store.ErrAudioNotFound)

	st.readable[7] = true
	data, err = svc.Download(context.Background(), 4, audioID)
	require.NoError(t, err)
	require.Equal(t, []byte("mp3"), data)

	delete(blobs.data, audioID)
	_, err = svc.Download(context.Background(), 4, audioID)
	require.ErrorIs(t, err, store.ErrAudioNotFound)
}
