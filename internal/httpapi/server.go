package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/app/artists"
	"github.com/titovtima/songsServer/internal/app/users"
	"github.com/titovtima/songsServer/internal/auth"
	"github.com/titovtima/songsServer/internal/http/middleware"
	"github.com/titovtima/songsServer/internal/store"
)

const (
	defaultMaxAudioBytes = 50 << 20
	maxJSONBytes         = 1 << 20
)

// AuthService covers accounts, sessions and password recovery.
type AuthService interface {
	Register(ctx context.Context, username, password string) (int64, error)
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Authenticate(ctx context.Context, bearer string) (int64, error)
	RevokeAllTokens(ctx context.Context, userID int64) error
	ChangePassword(ctx context.Context, userID int64, newPassword string) error
	ChangeEmail(ctx context.Context, userID int64, email string) error
	RequestPasswordReset(ctx context.Context, username string) error
	ResetPassword(ctx context.Context, userID int64, token, newPassword string) error
}

// UserService exposes profile lookups.
type UserService interface {
	Me(ctx context.Context, userID int64) (store.User, error)
	Public(ctx context.Context, username string) (users.PublicProfile, error)
}

// SongService coordinates song operations.
type SongService interface {
	List(ctx context.Context, viewer int64, mainOnly bool) ([]store.SongInfo, error)
	Get(ctx context.Context, viewer, id int64) (store.Song, error)
	Create(ctx context.Context, owner int64, song store.Song) (store.Song, error)
	Update(ctx context.Context, editor int64, song store.Song) (store.Song, error)
	Delete(ctx context.Context, editor, id int64) error
	Rights(ctx context.Context, viewer, id int64) (store.SongRights, error)
	SetRights(ctx context.Context, editor int64, rights store.SongRights) (store.SongRights, error)
}

// ArtistService describes artist catalogue workflows.
type ArtistService interface {
	List(ctx context.Context, filter artists.Filter) ([]store.Artist, error)
	Get(ctx context.Context, id int64) (store.Artist, error)
	Rename(ctx context.Context, editor, id int64, name string) (store.Artist, error)
}

// ListService coordinates song list operations.
type ListService interface {
	List(ctx context.Context, viewer int64) ([]store.ListInfo, error)
	Get(ctx context.Context, viewer, id int64) (store.List, error)
	GetFull(ctx context.Context, viewer, id int64) (store.FullList, error)
	Create(ctx context.Context, owner int64, in store.ListInput) (store.List, error)
	Update(ctx context.Context, editor int64, in store.ListInput) (store.List, error)
	Delete(ctx context.Context, editor, id int64) error
	Rights(ctx context.Context, viewer, id int64) (store.ListRights, error)
	SetRights(ctx context.Context, editor int64, rights store.ListRights) (store.ListRights, error)
}

// AudioService uploads and serves audio.
type AudioService interface {
	Upload(ctx context.Context, userID int64, songID *int64, data []byte) (string, error)
	Download(ctx context.Context, viewer int64, id string) ([]byte, error)
}

// Services bundles the handlers' dependencies.
type Services struct {
	Auth    AuthService
	Users   UserService
	Songs   SongService
	Artists ArtistService
	Lists   ListService
	Audio   AudioService
}

// Config tunes the HTTP surface.
type Config struct {
	CORSOrigins []string
	// AuthRatePerMinute throttles register, login and password recovery per
	// client address. Zero disables throttling.
	AuthRatePerMinute int
	AuthRateBurst     int
	MaxAudioBytes     int64
	Logger            zerolog.Logger
}

// Server wires HTTP handlers to the underlying services.
type Server struct {
	auth    AuthService
	users   UserService
	songs   SongService
	artists ArtistService
	lists   ListService
	audio   AudioService

	cfg    Config
	logger zerolog.Logger
}

// New configures a Server.
func New(svc Services, cfg Config) *Server {
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = defaultMaxAudioBytes
	}
	return &Server{
		auth:    svc.Auth,
		users:   svc.Users,
		songs:   svc.Songs,
		artists: svc.Artists,
		lists:   svc.Lists,
		audio:   svc.Audio,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// Routes exposes the HTTP handlers wrapped in the shared middleware chain.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeGeneric, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeGeneric, "Method not allowed")
	})

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	// Credential routes skip Authenticate so a stale bearer cannot lock a
	// client out of logging in again.
	public := router.PathPrefix("/api/v1").Subrouter()
	if s.cfg.AuthRatePerMinute > 0 {
		public.Use(middleware.NewRateLimiter(s.cfg.AuthRatePerMinute, s.cfg.AuthRateBurst).Middleware)
	}
	public.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	public.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	public.HandleFunc("/password/recovery", s.handlePasswordRecovery).Methods(http.MethodPost)
	public.HandleFunc("/password/reset", s.handlePasswordReset).Methods(http.MethodPost)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Authenticate(s.auth, s.writeAuthError))

	api.HandleFunc("/auth/tokens", s.handleRevokeTokens).Methods(http.MethodDelete)
	api.HandleFunc("/user/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/user/me/password", s.handleChangePassword).Methods(http.MethodPut)
	api.HandleFunc("/user/me/email", s.handleChangeEmail).Methods(http.MethodPut)
	api.HandleFunc("/user/{username}", s.handlePublicProfile).Methods(http.MethodGet)

	api.HandleFunc("/songs", s.handleListSongs).Methods(http.MethodGet)
	api.HandleFunc("/songs", s.handleCreateSong).Methods(http.MethodPost)
	api.HandleFunc("/songs/{id:[0-9]+}", s.handleGetSong).Methods(http.MethodGet)
	api.HandleFunc("/songs/{id:[0-9]+}", s.handleUpdateSong).Methods(http.MethodPut)
	api.HandleFunc("/songs/{id:[0-9]+}", s.handleDeleteSong).Methods(http.MethodDelete)
	api.HandleFunc("/songs/{id:[0-9]+}/rights", s.handleGetSongRights).Methods(http.MethodGet)
	api.HandleFunc("/songs/{id:[0-9]+}/rights", s.handleSetSongRights).Methods(http.MethodPut)

	api.HandleFunc("/artists", s.handleListArtists).Methods(http.MethodGet)
	api.HandleFunc("/artists/{id:[0-9]+}", s.handleGetArtist).Methods(http.MethodGet)
	api.HandleFunc("/artists/{id:[0-9]+}", s.handleRenameArtist).Methods(http.MethodPut)

	api.HandleFunc("/lists", s.handleListLists).Methods(http.MethodGet)
	api.HandleFunc("/lists", s.handleCreateList).Methods(http.MethodPost)
	api.HandleFunc("/lists/{id:[0-9]+}", s.handleGetList).Methods(http.MethodGet)
	api.HandleFunc("/lists/{id:[0-9]+}", s.handleUpdateList).Methods(http.MethodPut)
	api.HandleFunc("/lists/{id:[0-9]+}", s.handleDeleteList).Methods(http.MethodDelete)
	api.HandleFunc("/lists/{id:[0-9]+}/rights", s.handleGetListRights).Methods(http.MethodGet)
	api.HandleFunc("/lists/{id:[0-9]+}/rights", s.handleSetListRights).Methods(http.MethodPut)

	api.HandleFunc("/audio", s.handleUploadAudio).Methods(http.MethodPost)
	api.HandleFunc("/audio/{id}", s.handleDownloadAudio).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = middleware.CORS(s.cfg.CORSOrigins)(handler)
	handler = middleware.RequestLogging(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)
	return handler
}

// currentUser returns the authenticated caller or writes 401.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID := middleware.UserID(r.Context())
	if userID == store.Anonymous {
		writeError(w, http.StatusUnauthorized, codeGeneric, "Authentication required")
		return 0, false
	}
	return userID, true
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeServiceError(w, r, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}

// decodeJSON reads a bounded JSON body into dst and writes 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeGeneric, "Request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, codeGeneric, "Could not read request body")
		return nil, false
	}
	return data, true
}
