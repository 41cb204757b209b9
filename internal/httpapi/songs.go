package httpapi

import (
	"net/http"
	"strconv"

	"github.com/titovtima/songsServer/internal/app/artists"
	"github.com/titovtima/songsServer/internal/http/middleware"
	"github.com/titovtima/songsServer/internal/store"
)

type renameArtistRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	mainOnly, _ := strconv.ParseBool(r.URL.Query().Get("main"))
	songs, err := s.songs.List(r.Context(), middleware.UserID(r.Context()), mainOnly)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Songs []store.SongInfo `json:"songs"`
	}{Songs: songs})
}

func (s *Server) handleCreateSong(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var song store.Song
	if !decodeJSON(w, r, &song) {
		return
	}
	created, err := s.songs.Create(r.Context(), userID, song)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid song id")
		return
	}
	song, err := s.songs.Get(r.Context(), middleware.UserID(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (s *Server) handleUpdateSong(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid song id")
		return
	}
	var song store.Song
	if !decodeJSON(w, r, &song) {
		return
	}
	if song.ID != id {
		writeError(w, http.StatusBadRequest, codeIDMismatch, "Song id in body does not match URL")
		return
	}
	updated, err := s.songs.Update(r.Context(), userID, song)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid song id")
		return
	}
	if err := s.songs.Delete(r.Context(), userID, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSongRights(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid song id")
		return
	}
	rights, err := s.songs.Rights(r.Context(), userID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rights)
}

func (s *Server) handleSetSongRights(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid song id")
		return
	}
	var rights store.SongRights
	if !decodeJSON(w, r, &rights) {
		return
	}
	if rights.SongID != id {
		writeError(w, http.StatusBadRequest, codeIDMismatch, "Song id in body does not match URL")
		return
	}
	updated, err := s.songs.SetRights(r.Context(), userID, rights)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListArtists(w http.ResponseWriter, r *http.Request) {
	list, err := s.artists.List(r.Context(), artists.Filter{Name: r.URL.Query().Get("name")})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Artists []store.Artist `json:"artists"`
	}{Artists: list})
}

func (s *Server) handleGetArtist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid artist id")
		return
	}
	artist, err := s.artists.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artist)
}

func (s *Server) handleRenameArtist(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid artist id")
		return
	}
	var req renameArtistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	artist, err := s.artists.Rename(r.Context(), userID, id, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, artist)
}
