package model

import "time"

// Session is a persisted refresh token. Successive rotations from one login
// share a FamilyID; PredecessorID links each token to the one it replaced.
type Session struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	FamilyID      string     `json:"family_id"`
	TokenHash     string     `json:"-"`
	PredecessorID *int64     `json:"predecessor_id,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RotatedAt     *time.Time `json:"rotated_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session can still be refreshed: not rotated,
// not revoked, not past its expiry.
func (s *Session) Active(now time.Time) bool {
	return s.RotatedAt == nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
