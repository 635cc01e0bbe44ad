package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/auth"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
)

type AuthHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	auditStore   *store.AuditStore
	issuer       *auth.TokenIssuer
	refreshTTL   time.Duration
	logger       *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	as *store.AuditStore,
	issuer *auth.TokenIssuer,
	refreshTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userStore:    us,
		sessionStore: ss,
		auditStore:   as,
		issuer:       issuer,
		refreshTTL:   refreshTTL,
		logger:       logger,
	}
}

type authenticateResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	Principal    *model.User `json:"principal"`
}

type refreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and a password of at least 8 characters are required"})
		return
	}

	existing, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register lookup", "error", err)
		writeError(w, err)
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a user with that email already exists"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeError(w, err)
		return
	}

	user, err := h.userStore.Create(req.Email, strings.TrimSpace(req.Name), hash)
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeError(w, err)
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, err)
		return
	}
	// Same failure for unknown email and wrong password, to prevent
	// user enumeration.
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, apperr.ErrAuthenticationFailed)
		return
	}

	accessToken, err := h.issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		h.logger.Error("issue access token", "error", err)
		writeError(w, err)
		return
	}

	_, refreshToken, err := h.sessionStore.Create(user.ID, h.refreshTTL)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, err)
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authenticateResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Principal:    user,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "refresh_token is required"})
		return
	}

	sess, newToken, err := h.sessionStore.Rotate(req.RefreshToken, h.refreshTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.userStore.GetByID(sess.UserID)
	if err != nil {
		// Infrastructure fault, not a bad token: report it as such.
		h.logger.Error("refresh user lookup", "error", err)
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperr.ErrTokenInvalid)
		return
	}

	accessToken, err := h.issuer.IssueAccess(user.ID, user.Email)
	if err != nil {
		h.logger.Error("issue access token", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResult{
		AccessToken:  accessToken,
		RefreshToken: newToken,
	})
}

// Logout revokes the presented refresh token. Idempotent: revoking an
// unknown or already revoked token still succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "refresh_token is required"})
		return
	}

	if err := h.sessionStore.Revoke(req.RefreshToken); err != nil {
		h.logger.Error("revoke session", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// RevokeSession force-revokes one of the caller's sessions by id, a thin
// wrapper over the same revocation the refresh path uses.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	sess, err := h.sessionStore.GetByID(id)
	if err != nil {
		h.logger.Error("get session", "error", err)
		writeError(w, err)
		return
	}
	if sess == nil || sess.UserID != auth.UserID(r.Context()) {
		writeError(w, apperr.ErrNotFound)
		return
	}

	if err := h.sessionStore.RevokeByID(id); err != nil {
		h.logger.Error("revoke session by id", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// UpdateProfile changes the caller's own email and display name.
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email is required"})
		return
	}

	callerID := auth.UserID(r.Context())
	existing, err := h.userStore.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("profile lookup", "error", err)
		writeError(w, err)
		return
	}
	if existing != nil && existing.ID != callerID {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a user with that email already exists"})
		return
	}

	user, err := h.userStore.Update(callerID, req.Email, strings.TrimSpace(req.Name))
	if err != nil {
		h.logger.Error("update profile", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteAccount removes the caller's account. Memberships and sessions go
// with it by cascade; the store refuses when the caller is the sole admin of
// any household, so households are never orphaned.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.userStore.Delete(auth.UserID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Audit returns the caller's security audit trail, newest first.
func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	events, err := h.auditStore.ListByUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list audit events", "error", err)
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
