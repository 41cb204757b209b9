package httpapi

import (
	"net/http"
	"strconv"

	"github.com/titovtima/songsServer/internal/http/middleware"
	"github.com/titovtima/songsServer/internal/store"
)

func (s *Server) handleListLists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.lists.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Lists []store.ListInfo `json:"lists"`
	}{Lists: lists})
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var in store.ListInput
	if !decodeJSON(w, r, &in) {
		return
	}
	created, err := s.lists.Create(r.Context(), userID, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid list id")
		return
	}
	viewer := middleware.UserID(r.Context())

	if full, _ := strconv.ParseBool(r.URL.Query().Get("full")); full {
		list, err := s.lists.GetFull(r.Context(), viewer, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	list, err := s.lists.Get(r.Context(), viewer, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid list id")
		return
	}
	var in store.ListInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.ID != id {
		writeError(w, http.StatusBadRequest, codeIDMismatch, "List id in body does not match URL")
		return
	}
	updated, err := s.lists.Update(r.Context(), userID, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid list id")
		return
	}
	if err := s.lists.Delete(r.Context(), userID, id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetListRights(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid list id")
		return
	}
	rights, err := s.lists.Rights(r.Context(), userID, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rights)
}

func (s *Server) handleSetListRights(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadFormat, "Invalid list id")
		return
	}
	var rights store.ListRights
	if !decodeJSON(w, r, &rights) {
		return
	}
	if rights.ListID != id {
		writeError(w, http.StatusBadRequest, codeIDMismatch, "List id in body does not match URL")
		return
	}
	updated, err := s.lists.SetRights(r.Context(), userID, rights)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
