package model

import "time"

// Invitation statuses. Pending is the only live state; the others are terminal.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
	InvitationRevoked  = "revoked"
)

type Invitation struct {
	ID          int64      `json:"id"`
	HouseholdID int64      `json:"household_id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Token       string     `json:"-"`
	InvitedBy   int64      `json:"invited_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	UsedBy      *int64     `json:"used_by,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Status derives the invitation state at the given instant. Expiry is lazy:
// a Pending row past its deadline reads as expired without any sweep.
func (i *Invitation) Status(now time.Time) string {
	switch {
	case i.UsedAt != nil:
		return InvitationAccepted
	case i.RevokedAt != nil:
		return InvitationRevoked
	case now.After(i.ExpiresAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}
