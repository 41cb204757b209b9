package httpapi

import (
	"errors"
	"net/http"

	appaudio "github.com/titovtima/songsServer/internal/app/audio"
	"github.com/titovtima/songsServer/internal/auth"
	"github.com/titovtima/songsServer/internal/logging"
	"github.com/titovtima/songsServer/internal/store"
)

// Error codes carried in errorResponse.ErrorCode.
const (
	codeGeneric       = 0
	codeUsernameTaken = 1
	codeBadFormat     = 2
	codeIDMismatch    = 3
)

type errorResponse struct {
	ErrorCode int    `json:"errorCode"`
	Details   string `json:"details"`
}

func writeError(w http.ResponseWriter, status, code int, details string) {
	writeJSON(w, status, errorResponse{ErrorCode: code, Details: details})
}

// writeServiceError maps service and store errors onto HTTP responses.
// Anything unrecognised is logged and reported as 500 without details.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrUserExists):
		writeError(w, http.StatusBadRequest, codeUsernameTaken, "Username is already taken")
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, auth.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, codeBadFormat, err.Error())
	case errors.Is(err, store.ErrInvalidSong),
		errors.Is(err, store.ErrInvalidList),
		errors.Is(err, store.ErrUnknownUser),
		errors.Is(err, appaudio.ErrEmptyAudio):
		writeError(w, http.StatusBadRequest, codeGeneric, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, codeGeneric, "Invalid username or password")
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, store.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, codeGeneric, "Unauthorized")
	case errors.Is(err, store.ErrForbidden),
		errors.Is(err, auth.ErrInvalidActionToken):
		writeError(w, http.StatusForbidden, codeGeneric, "Forbidden")
	case errors.Is(err, store.ErrSongNotFound),
		errors.Is(err, store.ErrListNotFound),
		errors.Is(err, store.ErrArtistNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrAudioNotFound):
		writeError(w, http.StatusNotFound, codeGeneric, err.Error())
	default:
		logging.WithContext(r.Context()).Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, codeGeneric, "Internal server error")
	}
}
