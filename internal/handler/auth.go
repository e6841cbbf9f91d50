package handler

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/athalino-bakti/UTS/internal/auth"
	"github.com/athalino-bakti/UTS/internal/repository"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int64  `json:"expiresIn"`
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equalizeTiming runs one password verification against a throwaway hash so
// unknown emails cost the same as wrong passwords.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = auth.HashPassword("unused-password", nil)
	})
	if dummyHash != "" {
		_, _ = auth.VerifyPassword(password, dummyHash)
	}
}

// Login handles user authentication and issues an access token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "login_unavailable", "Login is not configured")
		return
	}

	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "Email and password are required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			equalizeTiming(req.Password)
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "The email or password is incorrect.")
			return
		}
		h.log.Error().Err(err).Msg("user lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("stored password hash is unreadable")
		writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "The email or password is incorrect.")
		return
	}

	if !user.IsActive() {
		writeError(w, http.StatusForbidden, "account_inactive", "Your account is not active.")
		return
	}

	token, err := h.issuer.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("token issued")

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: h.tokenTTL,
	})
}
