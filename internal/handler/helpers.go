package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dukerupert/larder/internal/apperr"
)

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a typed outcome to its HTTP status. Domain outcomes keep
// their identity all the way to the client; anything unrecognized is an
// infrastructure fault and is reported as unavailable, never as a domain
// error.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	message := apperr.ErrUnavailable.Error()

	switch {
	case errors.Is(err, apperr.ErrAuthenticationFailed):
		status, message = http.StatusUnauthorized, apperr.ErrAuthenticationFailed.Error()
	case errors.Is(err, apperr.ErrTokenInvalid):
		status, message = http.StatusUnauthorized, apperr.ErrTokenInvalid.Error()
	case errors.Is(err, apperr.ErrPermissionDenied):
		status, message = http.StatusForbidden, apperr.ErrPermissionDenied.Error()
	case errors.Is(err, apperr.ErrDuplicateMembership):
		status, message = http.StatusConflict, apperr.ErrDuplicateMembership.Error()
	case errors.Is(err, apperr.ErrLastAdminViolation):
		status, message = http.StatusConflict, apperr.ErrLastAdminViolation.Error()
	case errors.Is(err, apperr.ErrInvitationExpired):
		status, message = http.StatusGone, apperr.ErrInvitationExpired.Error()
	case errors.Is(err, apperr.ErrInvitationAlreadyUsed):
		status, message = http.StatusConflict, apperr.ErrInvitationAlreadyUsed.Error()
	case errors.Is(err, apperr.ErrDuplicatePendingInvitation):
		status, message = http.StatusConflict, apperr.ErrDuplicatePendingInvitation.Error()
	case errors.Is(err, apperr.ErrNotFound):
		status, message = http.StatusNotFound, apperr.ErrNotFound.Error()
	}

	writeJSON(w, status, map[string]string{"error": message})
}
