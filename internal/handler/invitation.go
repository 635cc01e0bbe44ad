package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/auth"
	"github.com/dukerupert/larder/internal/authz"
	"github.com/dukerupert/larder/internal/bus"
	"github.com/dukerupert/larder/internal/email"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
)

type InvitationHandler struct {
	invitationStore *store.InvitationStore
	householdStore  *store.HouseholdStore
	guard           *authz.Guard
	publisher       bus.Publisher
	emailClient     *email.Client
	inviteTTL       time.Duration
	logger          *slog.Logger
}

func NewInvitationHandler(
	is *store.InvitationStore,
	hs *store.HouseholdStore,
	guard *authz.Guard,
	publisher bus.Publisher,
	ec *email.Client,
	inviteTTL time.Duration,
	logger *slog.Logger,
) *InvitationHandler {
	return &InvitationHandler{
		invitationStore: is,
		householdStore:  hs,
		guard:           guard,
		publisher:       publisher,
		emailClient:     ec,
		inviteTTL:       inviteTTL,
		logger:          logger,
	}
}

// invitationStatus is the administrative view of one invitation.
type invitationStatus struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *InvitationHandler) authorize(w http.ResponseWriter, userID, householdID int64, action string) bool {
	decision, err := h.guard.Check(userID, householdID, action)
	if err != nil {
		h.logger.Error("authorization check", "error", err)
		writeError(w, err)
		return false
	}
	if !decision.Allow {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  apperr.ErrPermissionDenied.Error(),
			"reason": decision.Reason,
		})
		return false
	}
	return true
}

func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	callerID := auth.UserID(r.Context())
	if !h.authorize(w, callerID, householdID, authz.ActionManage) {
		return
	}

	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
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
	if !authz.ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be admin, editor, or viewer"})
		return
	}

	inv, err := h.invitationStore.Create(householdID, req.Email, req.Role, callerID, h.inviteTTL)
	if err != nil {
		writeError(w, err)
		return
	}

	// Invite email is fire-and-forget: delivery failure is logged and the
	// invitation stands.
	if h.emailClient.Configured() {
		household, err := h.householdStore.GetByID(householdID)
		name := ""
		if err == nil && household != nil {
			name = household.Name
		}
		go func(inv model.Invitation) {
			if err := h.emailClient.SendInvite(inv.Email, inv.Token, name, inv.Role, inv.ExpiresAt); err != nil {
				h.logger.Error("send invite email", "error", err, "invitation_id", inv.ID)
			}
		}(*inv)
	}

	h.publisher.Publish(householdID, bus.NewEvent("invitation", "created", inv.ID, map[string]any{
		"email": inv.Email,
		"role":  inv.Role,
	}))
	h.logger.Info("invitation created", "invitation_id", inv.ID, "household_id", householdID)
	writeJSON(w, http.StatusCreated, inv)
}

func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	if !h.authorize(w, auth.UserID(r.Context()), householdID, authz.ActionManage) {
		return
	}

	invitations, err := h.invitationStore.ListForHousehold(householdID)
	if err != nil {
		h.logger.Error("list invitations", "error", err)
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	statuses := make([]invitationStatus, 0, len(invitations))
	for _, inv := range invitations {
		statuses = append(statuses, invitationStatus{
			ID:        inv.ID,
			Email:     inv.Email,
			Role:      inv.Role,
			Status:    inv.Status(now),
			CreatedAt: inv.CreatedAt,
			ExpiresAt: inv.ExpiresAt,
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

// Accept converts a pending invitation into a membership for the caller.
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	member, err := h.invitationStore.Accept(req.Token, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}

	h.publisher.Publish(member.HouseholdID, bus.NewEvent("member", "added", member.ID, map[string]any{
		"user_id": member.UserID,
		"role":    member.Role,
	}))
	h.logger.Info("invitation accepted", "household_id", member.HouseholdID, "user_id", member.UserID)
	writeJSON(w, http.StatusCreated, member)
}

// Revoke force-expires a pending invitation (administrative wrapper).
func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	invitationID, err := parseIDParam(r, "invitation_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invitation id"})
		return
	}
	if !h.authorize(w, auth.UserID(r.Context()), householdID, authz.ActionManage) {
		return
	}

	inv, err := h.invitationStore.GetByID(invitationID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Household scoping: an admin of one household cannot revoke another's
	// invitations by id.
	if inv == nil || inv.HouseholdID != householdID {
		writeError(w, apperr.ErrNotFound)
		return
	}

	if err := h.invitationStore.Revoke(inv.Token); err != nil {
		writeError(w, err)
		return
	}
	h.publisher.Publish(householdID, bus.NewEvent("invitation", "revoked", inv.ID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
