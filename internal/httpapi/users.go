package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	NewPassword  string `json:"newPassword"`
	RevokeTokens bool   `json:"revokeTokens"`
}

type changeEmailRequest struct {
	Email string `json:"email"`
}

type recoveryRequest struct {
	Username string `json:"username"`
}

type resetRequest struct {
	UserID      int64  `json:"userId"`
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.auth.Register(r.Context(), req.Username, req.Password); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRevokeTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	if err := s.auth.RevokeAllTokens(r.Context(), userID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	user, err := s.users.Me(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handlePublicProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.users.Public(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.ChangePassword(r.Context(), userID, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.RevokeTokens {
		if err := s.auth.RevokeAllTokens(r.Context(), userID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req changeEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.ChangeEmail(r.Context(), userID, req.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePasswordRecovery always answers 202 so callers cannot enumerate
// accounts. Delivery failures are only logged.
func (s *Server) handlePasswordRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.RequestPasswordReset(r.Context(), req.Username); err != nil {
		s.logger.Error().Err(err).Msg("password recovery failed")
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.auth.ResetPassword(r.Context(), req.UserID, req.Token, req.NewPassword); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
