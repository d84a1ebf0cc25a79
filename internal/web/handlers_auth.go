package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"worksched/internal/auth"
	appLog "worksched/internal/log"
	"worksched/internal/model"
	"worksched/internal/store"
)

type loginResponse struct {
	Message           string `json:"message"`
	CSRFToken         string `json:"csrf_token"`
	IsDefaultPassword bool   `json:"is_default_password"`
}

type tokenResponse struct {
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	CSRFToken         string `json:"csrf_token"`
	TokenType         string `json:"token_type"`
	IsDefaultPassword bool   `json:"is_default_password"`
	Message           string `json:"message"`
}

type meResponse struct {
	ID                 int64                 `json:"id"`
	Email              string                `json:"email"`
	Name               string                `json:"name"`
	CommutingAllowance model.AllowanceStatus `json:"commuting_allowance"`
	IsDefaultPassword  bool                  `json:"is_default_password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// checkCredentials validates the form fields username (email) and password.
func (s *Server) checkCredentials(r *http.Request) (*store.UserRecord, int, string) {
	if err := r.ParseForm(); err != nil {
		return nil, http.StatusBadRequest, "Invalid form body"
	}
	email := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if email == "" || password == "" {
		return nil, http.StatusUnprocessableEntity, "username and password are required"
	}
	u, err := s.users.GetByEmail(r.Context(), email)
	if err != nil {
		appLog.Error("login lookup failed", err, "email", email)
		return nil, http.StatusInternalServerError, "Database error"
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, password) {
		appLog.Warn("failed login attempt", "email", email)
		return nil, http.StatusUnauthorized, "Incorrect email or password"
	}
	return u, 0, ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	u, status, msg := s.checkCredentials(r)
	if u == nil {
		writeError(w, status, msg)
		return
	}
	csrf, err := s.setSessionCookies(w, u.ID, true)
	if err != nil {
		appLog.Error("issue session failed", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	appLog.Info("login successful", "user_id", u.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		Message:           "Login successful",
		CSRFToken:         csrf,
		IsDefaultPassword: u.IsDefaultPassword,
	})
}

// handleMachineLogin returns tokens in the body for scheduled jobs that cannot
// keep cookies. It is guarded by a shared API key.
func (s *Server) handleMachineLogin(w http.ResponseWriter, r *http.Request) {
	key := s.cfg.Server.MachineAPIKey
	got := r.Header.Get(headerAPIKey)
	if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
		appLog.Warn("invalid machine API key")
		writeError(w, http.StatusForbidden, "Forbidden: invalid API key")
		return
	}
	u, status, msg := s.checkCredentials(r)
	if u == nil {
		writeError(w, status, msg)
		return
	}
	access, err := s.tokens.Access(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	refresh, err := s.tokens.Refresh(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	csrf, err := auth.NewCSRFToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	appLog.Info("machine login successful", "user_id", u.ID)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:       access,
		RefreshToken:      refresh,
		CSRFToken:         csrf,
		TokenType:         "bearer",
		IsDefaultPassword: u.IsDefaultPassword,
		Message:           "Login successful",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie(cookieRefresh)
	if err != nil || ck.Value == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token missing")
		return
	}
	id, err := s.tokens.Parse(ck.Value, auth.KindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	csrf, err := s.setSessionCookies(w, id, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Message: "Token refreshed", CSRFToken: csrf})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.UserIDFromContext(r.Context())
	u, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		appLog.Error("me lookup failed", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	if u == nil {
		writeError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		CommutingAllowance: u.CommutingAllowance,
		IsDefaultPassword:  u.IsDefaultPassword,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.UserIDFromContext(r.Context())
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "New password must be at least 8 characters")
		return
	}
	u, err := s.users.GetByID(r.Context(), id)
	if err != nil || u == nil {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.OldPassword) {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := s.users.UpdatePassword(r.Context(), id, hash); err != nil {
		appLog.Error("password update failed", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "Database error occurred")
		return
	}
	appLog.Info("password changed", "user_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
