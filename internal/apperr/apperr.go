// Package apperr defines the typed outcomes returned at the application
// boundary. Handlers map these to HTTP statuses; nothing downgrades them to a
// generic failure, and infrastructure faults are kept distinct (ErrUnavailable)
// so they never masquerade as domain errors.
package apperr

import "errors"

var (
	ErrAuthenticationFailed       = errors.New("authentication failed")
	ErrTokenInvalid               = errors.New("token invalid")
	ErrPermissionDenied           = errors.New("permission denied")
	ErrDuplicateMembership        = errors.New("duplicate membership")
	ErrLastAdminViolation         = errors.New("household must keep at least one admin")
	ErrInvitationExpired          = errors.New("invitation expired")
	ErrInvitationAlreadyUsed      = errors.New("invitation already used")
	ErrDuplicatePendingInvitation = errors.New("pending invitation already exists")
	ErrNotFound                   = errors.New("not found")
	ErrUnavailable                = errors.New("service unavailable")
)

// IsDomain reports whether err is one of the user-facing domain outcomes,
// as opposed to an infrastructure fault.
func IsDomain(err error) bool {
	for _, e := range []error{
		ErrAuthenticationFailed,
		ErrTokenInvalid,
		ErrPermissionDenied,
		ErrDuplicateMembership,
		ErrLastAdminViolation,
		ErrInvitationExpired,
		ErrInvitationAlreadyUsed,
		ErrDuplicatePendingInvitation,
		ErrNotFound,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
