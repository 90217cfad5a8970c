package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/workflowshelf/workflowshelf/internal/auth"
	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// ─── Login / Register ───────────────────────────────────────────────────────

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	resp, err := s.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusOK, resp)
	case errors.Is(err, auth.ErrMissingCredentials):
		s.sendError(w, http.StatusBadRequest, "Missing username or password", "Please enter username and password")
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.sendError(w, http.StatusUnauthorized, "Login failed", "Invalid username or password")
	default:
		logging.Error("login", logging.String("username", req.Username), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Login failed", "Login service unavailable, please try again later")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	resp, err := s.auth.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		s.sendJSON(w, http.StatusOK, resp)
	case errors.Is(err, auth.ErrMissingCredentials):
		s.sendError(w, http.StatusBadRequest, "Missing username or password", "Please enter username and password")
	case errors.Is(err, auth.ErrUsernameTooShort):
		s.sendError(w, http.StatusBadRequest, "Invalid username", "Username must be at least 3 characters")
	case errors.Is(err, auth.ErrPasswordTooShort):
		s.sendError(w, http.StatusBadRequest, "Invalid password", "Password must be at least 6 characters")
	case errors.Is(err, auth.ErrUserExists):
		s.sendError(w, http.StatusConflict, "Username exists", "This username is already taken")
	default:
		logging.Error("register", logging.String("username", req.Username), logging.Err(err))
		s.sendError(w, http.StatusBadRequest, "Registration failed", "Registration failed, please try again later")
	}
}

// ─── User ───────────────────────────────────────────────────────────────────

// handleUserInfo answers anonymous callers with authenticated=false rather
// than an error; a token that does not validate is still a 401.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractToken(r)
	if token == "" {
		s.sendJSON(w, http.StatusOK, protocol.UserInfoResponse{
			Authenticated: false,
			Message:       "Not logged in",
		})
		return
	}

	user, err := s.auth.Validate(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			logging.Error("validate token", logging.Err(err))
		}
		s.sendError(w, http.StatusUnauthorized, "Invalid token", "Your session has expired, please log in again")
		return
	}
	s.sendJSON(w, http.StatusOK, user.Info())
}

func (s *Server) handleAuthorized(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	ents, err := s.auth.Entitlements(r.Context(), user)
	if err != nil {
		logging.Error("load entitlements", logging.String("user", user.ID), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to get authorization data", "")
		return
	}
	s.sendJSON(w, http.StatusOK, s.entitlements.List(ents))
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	var req protocol.CheckAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	req.WorkflowID = strings.TrimSpace(req.WorkflowID)
	if req.WorkflowID == "" {
		s.sendError(w, http.StatusBadRequest, "Missing workflow_id", "")
		return
	}

	user := auth.UserFromContext(r.Context())
	ents, err := s.auth.Entitlements(r.Context(), user)
	if err != nil {
		logging.Error("load entitlements", logging.String("user", user.ID), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to get authorization data", "")
		return
	}
	s.sendJSON(w, http.StatusOK, s.entitlements.Check(ents, req.WorkflowID))
}
