package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/auth"
	"github.com/dukerupert/larder/internal/authz"
	"github.com/dukerupert/larder/internal/bus"
	"github.com/dukerupert/larder/internal/model"
	"github.com/dukerupert/larder/internal/store"
)

type HouseholdHandler struct {
	householdStore *store.HouseholdStore
	userStore      *store.UserStore
	guard          *authz.Guard
	publisher      bus.Publisher
	logger         *slog.Logger
}

func NewHouseholdHandler(
	hs *store.HouseholdStore,
	us *store.UserStore,
	guard *authz.Guard,
	publisher bus.Publisher,
	logger *slog.Logger,
) *HouseholdHandler {
	return &HouseholdHandler{
		householdStore: hs,
		userStore:      us,
		guard:          guard,
		publisher:      publisher,
		logger:         logger,
	}
}

// authorize runs the guard and writes the denial if the action is not
// allowed. It returns true when the caller may proceed.
func (h *HouseholdHandler) authorize(w http.ResponseWriter, userID, householdID int64, action string) bool {
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

func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	userID := auth.UserID(r.Context())
	household, err := h.householdStore.Create(req.Name, userID)
	if err != nil {
		h.logger.Error("create household", "error", err)
		writeError(w, err)
		return
	}

	h.logger.Info("household created", "household_id", household.ID, "owner_id", userID)
	writeJSON(w, http.StatusCreated, household)
}

// Delete removes a household and, via cascade, its roster and invitations.
func (h *HouseholdHandler) Delete(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	if !h.authorize(w, auth.UserID(r.Context()), householdID, authz.ActionManage) {
		return
	}

	if err := h.householdStore.Delete(householdID); err != nil {
		h.logger.Error("delete household", "error", err)
		writeError(w, err)
		return
	}

	// Last event on this household's stream; subscribers drop out when they
	// see it or when their next action is denied.
	h.publisher.Publish(householdID, bus.NewEvent("household", "deleted", householdID, nil))
	h.logger.Info("household deleted", "household_id", householdID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *HouseholdHandler) List(w http.ResponseWriter, r *http.Request) {
	households, err := h.householdStore.ListHouseholdsForUser(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("list households", "error", err)
		writeError(w, err)
		return
	}
	if households == nil {
		households = []model.Household{}
	}
	writeJSON(w, http.StatusOK, households)
}

func (h *HouseholdHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	if !h.authorize(w, auth.UserID(r.Context()), householdID, authz.ActionRead) {
		return
	}

	members, err := h.householdStore.ListMembers(householdID)
	if err != nil {
		h.logger.Error("list members", "error", err)
		writeError(w, err)
		return
	}
	if members == nil {
		members = []model.MemberView{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *HouseholdHandler) AddMember(w http.ResponseWriter, r *http.Request) {
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
	if !authz.ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be admin, editor, or viewer"})
		return
	}

	user, err := h.userStore.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.logger.Error("add member lookup", "error", err)
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperr.ErrNotFound)
		return
	}

	member, err := h.householdStore.AddMember(householdID, user.ID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publisher.Publish(householdID, bus.NewEvent("member", "added", member.ID, map[string]any{
		"user_id": user.ID,
		"role":    member.Role,
	}))
	writeJSON(w, http.StatusCreated, member)
}

func (h *HouseholdHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	targetID, err := parseIDParam(r, "user_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	callerID := auth.UserID(r.Context())
	if !h.authorize(w, callerID, householdID, authz.ActionManage) {
		return
	}
	if targetID == callerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "you cannot change your own role"})
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !authz.ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be admin, editor, or viewer"})
		return
	}

	member, err := h.householdStore.UpdateMemberRole(householdID, targetID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publisher.Publish(householdID, bus.NewEvent("member", "role_changed", member.ID, map[string]any{
		"user_id": targetID,
		"role":    member.Role,
	}))
	writeJSON(w, http.StatusOK, member)
}

func (h *HouseholdHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	householdID, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid household id"})
		return
	}
	targetID, err := parseIDParam(r, "user_id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}
	callerID := auth.UserID(r.Context())
	if !h.authorize(w, callerID, householdID, authz.ActionManage) {
		return
	}
	if targetID == callerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "you cannot remove yourself from the household"})
		return
	}

	if err := h.householdStore.RemoveMember(householdID, targetID); err != nil {
		writeError(w, err)
		return
	}

	h.publisher.Publish(householdID, bus.NewEvent("member", "removed", targetID, nil))
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
