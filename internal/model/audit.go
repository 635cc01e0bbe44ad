package model

import "time"

// Audit event kinds recorded by the session manager.
const (
	AuditTokenReplay   = "token_replay"
	AuditFamilyRevoked = "family_revoked"
)

type AuditEvent struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	UserID    int64     `json:"user_id"`
	FamilyID  string    `json:"family_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
