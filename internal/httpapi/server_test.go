package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	appaudio "github.com/titovtima/songsServer/internal/app/audio"
	"github.com/titovtima/songsServer/internal/app/artists"
	"github.com/titovtima/songsServer/internal/app/users"
	"github.com/titovtima/songsServer/internal/auth"
	"github.com/titovtima/songsServer/internal/store"
)

type stubAuthService struct {
	tokens        map[string]int64
	recoveryErr   error
	recoveryCalls []string
	revoked       []int64
	passwords     map[int64]string
}

func newStubAuth() *stubAuthService {
	return &stubAuthService{
		tokens:    map[string]int64{"alice-token": 1, "bob-token": 2},
		passwords: map[int64]string{},
	}
}

func (s *stubAuthService) Register(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (s *stubAuthService) Login(context.Context, string, string) (auth.Session, error) {
	return auth.Session{}, auth.ErrInvalidCredentials
}

func (s *stubAuthService) Authenticate(_ context.Context, bearer string) (int64, error) {
	id, ok := s.tokens[bearer]
	if !ok {
		return 0, auth.ErrUnauthorized
	}
	return id, nil
}

func (s *stubAuthService) RevokeAllTokens(_ context.Context, userID int64) error {
	s.revoked = append(s.revoked, userID)
	return nil
}

func (s *stubAuthService) ChangePassword(_ context.Context, userID int64, newPassword string) error {
	if !auth.ValidPassword(newPassword) {
		return auth.ErrInvalidPassword
	}
	s.passwords[userID] = newPassword
	return nil
}

func (s *stubAuthService) ChangeEmail(context.Context, int64, string) error {
	return nil
}

func (s *stubAuthService) RequestPasswordReset(_ context.Context, username string) error {
	s.recoveryCalls = append(s.recoveryCalls, username)
	return s.recoveryErr
}

func (s *stubAuthService) ResetPassword(context.Context, int64, string, string) error {
	return auth.ErrInvalidActionToken
}

type stubSongService struct {
	songs      []store.SongInfo
	song       store.Song
	err        error
	lastViewer int64
	lastMain   bool
	updated    *store.Song
}

func (s *stubSongService) List(_ context.Context, viewer int64, mainOnly bool) ([]store.SongInfo, error) {
	s.lastViewer = viewer
	s.lastMain = mainOnly
	return s.songs, s.err
}

func (s *stubSongService) Get(_ context.Context, viewer, _ int64) (store.Song, error) {
	s.lastViewer = viewer
	return s.song, s.err
}

func (s *stubSongService) Create(_ context.Context, _ int64, song store.Song) (store.Song, error) {
	song.ID = 42
	return song, s.err
}

func (s *stubSongService) Update(_ context.Context, _ int64, song store.Song) (store.Song, error) {
	s.updated = &song
	return song, s.err
}

func (s *stubSongService) Delete(context.Context, int64, int64) error {
	return s.err
}

func (s *stubSongService) Rights(_ context.Context, _ int64, id int64) (store.SongRights, error) {
	return store.SongRights{SongID: id}, s.err
}

func (s *stubSongService) SetRights(_ context.Context, _ int64, rights store.SongRights) (store.SongRights, error) {
	return rights, s.err
}

type stubArtistService struct{}

func (stubArtistService) List(context.Context, artists.Filter) ([]store.Artist, error) {
	return []store.Artist{{ID: 1, Name: "Кино"}}, nil
}

func (stubArtistService) Get(_ context.Context, id int64) (store.Artist, error) {
	return store.Artist{}, store.ErrArtistNotFound
}

func (stubArtistService) Rename(context.Context, int64, int64, string) (store.Artist, error) {
	return store.Artist{}, store.ErrForbidden
}

type stubListService struct {
	fullRequested bool
}

func (s *stubListService) List(context.Context, int64) ([]store.ListInfo, error) {
	return []store.ListInfo{}, nil
}

func (s *stubListService) Get(_ context.Context, _ int64, id int64) (store.List, error) {
	return store.List{ListInfo: store.ListInfo{ID: id}}, nil
}

func (s *stubListService) GetFull(_ context.Context, _ int64, id int64) (store.FullList, error) {
	s.fullRequested = true
	return store.FullList{ListInfo: store.ListInfo{ID: id}}, nil
}

func (s *stubListService) Create(_ context.Context, _ int64, in store.ListInput) (store.List, error) {
	return store.List{ListInfo: store.ListInfo{ID: 9, Name: in.Name}}, nil
}

func (s *stubListService) Update(_ context.Context, _ int64, in store.ListInput) (store.List, error) {
	return store.List{ListInfo: store.ListInfo{ID: in.ID}}, nil
}

func (s *stubListService) Delete(context.Context, int64, int64) error {
	return store.ErrForbidden
}

func (s *stubListService) Rights(_ context.Context, _ int64, id int64) (store.ListRights, error) {
	return store.ListRights{ListID: id}, nil
}

func (s *stubListService) SetRights(_ context.Context, _ int64, rights store.ListRights) (store.ListRights, error) {
	return rights, nil
}

type stubAudioService struct {
	uploaded   []byte
	songID     *int64
	content    map[string][]byte
	uploadErr  error
	lastViewer int64
}

func (s *stubAudioService) Upload(_ context.Context, _ int64, songID *int64, data []byte) (string, error) {
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	if len(data) == 0 {
		return "", appaudio.ErrEmptyAudio
	}
	s.uploaded = data
	s.songID = songID
	return "0b5c6f7e-5a8c-4b1e-9f3d-2a7c1e4d8b90", nil
}

func (s *stubAudioService) Download(_ context.Context, viewer int64, id string) ([]byte, error) {
	s.lastViewer = viewer
	data, ok := s.content[id]
	if !ok {
		return nil, store.ErrAudioNotFound
	}
	return data, nil
}

type stubUserService struct{}

func (stubUserService) Me(_ context.Context, userID int64) (store.User, error) {
	return store.User{ID: userID, Username: "alice"}, nil
}

func (stubUserService) Public(_ context.Context, username string) (users.PublicProfile, error) {
	return users.PublicProfile{}, store.ErrUserNotFound
}

type testServer struct {
	handler http.Handler
	auth    *stubAuthService
	songs   *stubSongService
	lists   *stubListService
	audio   *stubAudioService
}

func newTestServer(cfg Config) *testServer {
	ts := &testServer{
		auth:  newStubAuth(),
		songs: &stubSongService{},
		lists: &stubListService{},
		audio: &stubAudioService{content: map[string][]byte{}},
	}
	cfg.Logger = zerolog.Nop()
	srv := New(Services{
		Auth:    ts.auth,
		Users:   stubUserService{},
		Songs:   ts.songs,
		Artists: stubArtistService{},
		Lists:   ts.lists,
		Audio:   ts.audio,
	}, cfg)
	ts.handler = srv.Routes()
	return ts
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = strings.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(Config{})
	rec := do(t, ts.handler, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestInvalidBearerRejected(t *testing.T) {
	ts := newTestServer(Config{})
	rec := do(t, ts.handler, http.MethodGet, "/api/v1/songs", "forged", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestListSongsPassesViewerAndMainFlag(t *testing.T) {
	ts := newTestServer(Config{})
	ts.songs.songs = []store.SongInfo{{ID: 1, Name: "Группа крови", Public: true, InMainList: true}}

	rec := do(t, ts.handler, http.MethodGet, "/api/v1/songs?main=true", "alice-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ts.songs.lastViewer != 1 || !ts.songs.lastMain {
		t.Fatalf("unexpected call: viewer=%d main=%v", ts.songs.lastViewer, ts.songs.lastMain)
	}

	var body struct {
		Songs []store.SongInfo `json:"songs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Songs) != 1 || body.Songs[0].Name != "Группа крови" {
		t.Fatalf("unexpected songs: %+v", body.Songs)
	}

	rec = do(t, ts.handler, http.MethodGet, "/api/v1/songs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous listing, got %d", rec.Code)
	}
	if ts.songs.lastViewer != store.Anonymous || ts.songs.lastMain {
		t.Fatalf("unexpected anonymous call: viewer=%d main=%v", ts.songs.lastViewer, ts.songs.lastMain)
	}
}

func TestCreateSongRequiresAuth(t *testing.T) {
	ts := newTestServer(Config{})

	rec := do(t, ts.handler, http.MethodPost, "/api/v1/songs", "", store.Song{Name: "Звезда"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = do(t, ts.handler, http.MethodPost, "/api/v1/songs", "alice-token", store.Song{Name: "Звезда"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created store.Song
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID != 42 {
		t.Fatalf("expected id 42, got %d", created.ID)
	}
}

func TestUpdateSongIDMismatch(t *testing.T) {
	ts := newTestServer(Config{})

	rec := do(t, ts.handler, http.MethodPut, "/api/v1/songs/5", "alice-token", store.Song{ID: 6, Name: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.ErrorCode != codeIDMismatch {
		t.Fatalf("expected error code %d, got %d", codeIDMismatch, resp.ErrorCode)
	}
	if ts.songs.updated != nil {
		t.Fatalf("service must not be called on mismatch")
	}

	rec = do(t, ts.handler, http.MethodPut, "/api/v1/songs/5", "alice-token", store.Song{ID: 5, Name: "x"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSetRightsIDMismatch(t *testing.T) {
	ts := newTestServer(Config{})

	rec := do(t, ts.handler, http.MethodPut, "/api/v1/songs/5/rights", "alice-token", store.SongRights{SongID: 4})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).ErrorCode != codeIDMismatch {
		t.Fatalf("expected id mismatch, got %d", rec.Code)
	}

	rec = do(t, ts.handler, http.MethodPut, "/api/v1/lists/5/rights", "alice-token", store.ListRights{ListID: 4})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).ErrorCode != codeIDMismatch {
		t.Fatalf("expected id mismatch, got %d", rec.Code)
	}
}

func TestSongErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: store.ErrSongNotFound, status: http.StatusNotFound},
		{name: "wrapped not found", err: fmt.Errorf("load: %w", store.ErrSongNotFound), status: http.StatusNotFound},
		{name: "forbidden", err: store.ErrForbidden, status: http.StatusForbidden},
		{name: "invalid", err: store.ErrInvalidSong, status: http.StatusBadRequest},
		{name: "unknown user", err: store.ErrUnknownUser, status: http.StatusBadRequest},
		{name: "counter missing", err: store.ErrCounterMissing, status: http.StatusInternalServerError},
		{name: "unexpected", err: errors.New("connection reset"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(Config{})
			ts.songs.err = tt.err

			rec := do(t, ts.handler, http.MethodGet, "/api/v1/songs/1", "alice-token", nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			resp := decodeError(t, rec)
			if tt.status == http.StatusInternalServerError && resp.Details != "Internal server error" {
				t.Fatalf("internal details leaked: %q", resp.Details)
			}
		})
	}
}

func TestMalformedJSONIsBadFormat(t *testing.T) {
	ts := newTestServer(Config{})
	rec := do(t, ts.handler, http.MethodPost, "/api/v1/lists", "alice-token", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.ErrorCode != codeBadFormat {
		t.Fatalf("expected code %d, got %d", codeBadFormat, resp.ErrorCode)
	}
}

func TestGetListFull(t *testing.T) {
	ts := newTestServer(Config{})

	rec := do(t, ts.handler, http.MethodGet, "/api/v1/lists/3", "", nil)
	if rec.Code != http.StatusOK || ts.lists.fullRequested {
		t.Fatalf("expected short list, got %d full=%v", rec.Code, ts.lists.fullRequested)
	}

	rec = do(t, ts.handler, http.MethodGet, "/api/v1/lists/3?full=true", "", nil)
	if rec.Code != http.StatusOK || !ts.lists.fullRequested {
		t.Fatalf("expected full list, got %d full=%v", rec.Code, ts.lists.fullRequested)
	}

	rec = do(t, ts.handler, http.MethodDelete, "/api/v1/lists/3", "bob-token", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestArtists(t *testing.T) {
	ts := newTestServer(Config{})

	if rec := do(t, ts.handler, http.MethodGet, "/api/v1/artists", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, ts.handler, http.MethodGet, "/api/v1/artists/99", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec := do(t, ts.handler, http.MethodPut, "/api/v1/artists/1", "bob-token", map[string]string{"name": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAudioUploadAndDownload(t *testing.T) {
	ts := newTestServer(Config{MaxAudioBytes: 16})

	rec := do(t, ts.handler, http.MethodPost, "/api/v1/audio?songId=7", "", []byte("ID3audio"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = do(t, ts.handler, http.MethodPost, "/api/v1/audio?songId=abc", "alice-token", []byte("ID3audio"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad song id, got %d", rec.Code)
	}

	rec = do(t, ts.handler, http.MethodPost, "/api/v1/audio?songId=7", "alice-token", []byte("ID3audio"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.UUID == "" || ts.audio.songID == nil || *ts.audio.songID != 7 {
		t.Fatalf("unexpected upload: %+v song=%v", created, ts.audio.songID)
	}

	rec = do(t, ts.handler, http.MethodPost, "/api/v1/audio", "alice-token", bytes.Repeat([]byte("a"), 17))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	ts.audio.uploadErr = fmt.Errorf("%w: bucket missing", appaudio.ErrUpload)
	rec = do(t, ts.handler, http.MethodPost, "/api/v1/audio", "alice-token", []byte("ID3audio"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	ts.audio.content[created.UUID] = []byte("ID3audio")
	rec = do(t, ts.handler, http.MethodGet, "/api/v1/audio/"+created.UUID, "bob-token", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ID3audio" {
		t.Fatalf("expected audio body, got %d %q", rec.Code, rec.Body.String())
	}
	if ts.audio.lastViewer != 2 {
		t.Fatalf("expected viewer 2, got %d", ts.audio.lastViewer)
	}

	rec = do(t, ts.handler, http.MethodGet, "/api/v1/audio/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPasswordRecoveryAlwaysAccepted(t *testing.T) {
	ts := newTestServer(Config{})
	ts.auth.recoveryErr = errors.New("relay down")

	rec := do(t, ts.handler, http.MethodPost, "/api/v1/password/recovery", "", map[string]string{"username": "alice"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(ts.auth.recoveryCalls) != 1 || ts.auth.recoveryCalls[0] != "alice" {
		t.Fatalf("unexpected recovery calls: %v", ts.auth.recoveryCalls)
	}

	rec = do(t, ts.handler, http.MethodPost, "/api/v1/password/reset", "", map[string]any{
		"userId": 1, "token": "x", "newPassword": "secret123",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad reset token, got %d", rec.Code)
	}
}

func TestChangePasswordRevokesWhenAsked(t *testing.T) {
	ts := newTestServer(Config{})

	rec := do(t, ts.handler, http.MethodPut, "/api/v1/user/me/password", "alice-token", map[string]any{
		"newPassword": "short",
	})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).ErrorCode != codeBadFormat {
		t.Fatalf("expected bad format, got %d", rec.Code)
	}

	rec = do(t, ts.handler, http.MethodPut, "/api/v1/user/me/password", "alice-token", map[string]any{
		"newPassword": "longenough1", "revokeTokens": true,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if ts.auth.passwords[1] != "longenough1" || len(ts.auth.revoked) != 1 || ts.auth.revoked[0] != 1 {
		t.Fatalf("unexpected state: passwords=%v revoked=%v", ts.auth.passwords, ts.auth.revoked)
	}
}

func TestAuthRateLimit(t *testing.T) {
	ts := newTestServer(Config{AuthRatePerMinute: 1, AuthRateBurst: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, ts.handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "a", "password": "b"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec := do(t, ts.handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "a", "password": "b"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	if rec := do(t, ts.handler, http.MethodGet, "/api/v1/songs", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("content routes must not be throttled, got %d", rec.Code)
	}
}

func TestCredentialRoutesIgnoreStaleBearer(t *testing.T) {
	ts := newTestServer(Config{AuthRatePerMinute: 60, AuthRateBurst: 10})

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "register", path: "/api/v1/auth/register", body: map[string]string{"username": "alice", "password": "Passw0rd!"}, want: http.StatusCreated},
		{name: "login", path: "/api/v1/auth/login", body: map[string]string{"username": "alice", "password": "Passw0rd!"}, want: http.StatusUnauthorized},
		{name: "recovery", path: "/api/v1/password/recovery", body: map[string]string{"username": "alice"}, want: http.StatusAccepted},
		{name: "reset", path: "/api/v1/password/reset", body: map[string]any{"userId": 1, "token": "t", "newPassword": "Passw0rd!"}, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, ts.handler, http.MethodPost, tc.path, "revoked-token", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusUnauthorized {
				if resp := decodeError(t, rec); resp.Details != "Invalid username or password" {
					t.Fatalf("login should fail on credentials, not the header: %+v", resp)
				}
			}
		})
	}

	if rec := do(t, ts.handler, http.MethodGet, "/api/v1/songs", "revoked-token", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("content routes still check the bearer, got %d", rec.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(Config{})

	rec := do(t, ts.handler, http.MethodGet, "/api/v1/nothing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = do(t, ts.handler, http.MethodPatch, "/api/v1/songs/1", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
