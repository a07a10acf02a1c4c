package httpapi

import (
	"net/http"

	"askuni/internal/domain"
	"askuni/internal/infra/middleware"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type resetRequest struct {
	Email       string `json:"email" validate:"required,max=254"`
	Code        string `json:"code" validate:"required,max=16"`
	NewPassword string `json:"newPassword" validate:"required,max=128"`
}

type requestResetRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

type authResponse struct {
	OK    bool         `json:"ok"`
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, s.opts.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	token, user, err := s.deps.Auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{OK: true, Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, s.opts.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	token, user, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{OK: true, Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Auth.Me(r.Context(), middleware.IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
}

func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req requestResetRequest
	if err := decodeJSON(w, r, s.opts.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.deps.Auth.RequestReset(r.Context(), req.Email); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, s.opts.Server.MaxBodyBytes, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.deps.Auth.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
