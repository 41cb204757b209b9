package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/titovtima/songsServer/internal/http/middleware"
)

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var songID *int64
	if raw := r.URL.Query().Get("songId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid song id")
			return
		}
		songID = &id
	}

	data, ok := readBody(w, r, s.cfg.MaxAudioBytes)
	if !ok {
		return
	}

	id, err := s.audio.Upload(r.Context(), userID, songID, data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		UUID string `json:"uuid"`
	}{UUID: id})
}

func (s *Server) handleDownloadAudio(w http.ResponseWriter, r *http.Request) {
	data, err := s.audio.Download(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
