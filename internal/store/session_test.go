package store

import (
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/database"
	"github.com/dukerupert/larder/internal/model"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore, *AuditStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewUserStore(db), NewAuditStore(db)
}

func TestSessionCreate(t *testing.T) {
	ss, us, _ := setupSessionTestDB(t)

	u, err := us.Create("alice@example.com", "Alice", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, token, err := ss.Create(u.ID, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(token))
	}
	if sess.TokenHash == token {
		t.Error("stored hash must not equal the cleartext token")
	}
	if sess.FamilyID == "" {
		t.Error("expected non-empty family id")
	}
	if sess.PredecessorID != nil {
		t.Error("fresh session should have no predecessor")
	}
}

func TestSessionRotate(t *testing.T) {
	ss, us, _ := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	first, token1, _ := ss.Create(u.ID, 30*24*time.Hour)

	second, token2, err := ss.Rotate(token1, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if token2 == token1 {
		t.Error("rotation must issue a new token")
	}
	if second.FamilyID != first.FamilyID {
		t.Error("successor must stay in the same family")
	}
	if second.PredecessorID == nil || *second.PredecessorID != first.ID {
		t.Error("successor must link its predecessor")
	}

	rotated, _ := ss.GetByID(first.ID)
	if rotated.RotatedAt == nil {
		t.Error("presented token should be marked rotated")
	}
}

func TestSessionReplayRevokesFamily(t *testing.T) {
	ss, us, audit := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	first, token1, _ := ss.Create(u.ID, 30*24*time.Hour)

	_, token2, err := ss.Rotate(token1, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Replay of the superseded token fails and revokes the family.
	_, _, err = ss.Rotate(token1, 30*24*time.Hour)
	if !errors.Is(err, apperr.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on replay, got %v", err)
	}

	// The legitimate successor is dead too.
	_, _, err = ss.Rotate(token2, 30*24*time.Hour)
	if !errors.Is(err, apperr.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for revoked successor, got %v", err)
	}

	sess2, _ := ss.GetByToken(token2)
	if sess2.RevokedAt == nil {
		t.Error("successor should be revoked by the cascade")
	}

	// Replay is a security event and must land in the audit trail.
	events, err := audit.ListByUser(u.ID)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == model.AuditTokenReplay && e.FamilyID == first.FamilyID {
			found = true
		}
	}
	if !found {
		t.Error("expected a token_replay audit event for the family")
	}
}

func TestSessionRotateUnknownToken(t *testing.T) {
	ss, _, _ := setupSessionTestDB(t)

	_, _, err := ss.Rotate("deadbeef", time.Hour)
	if !errors.Is(err, apperr.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestSessionRotateExpiredToken(t *testing.T) {
	ss, us, _ := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	_, token, _ := ss.Create(u.ID, -time.Minute)

	_, _, err := ss.Rotate(token, time.Hour)
	if !errors.Is(err, apperr.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for expired token, got %v", err)
	}
}

func TestSessionRevokeIdempotent(t *testing.T) {
	ss, us, _ := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	_, token, _ := ss.Create(u.ID, time.Hour)

	if err := ss.Revoke(token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Second revoke and unknown-token revoke are no-ops, not errors.
	if err := ss.Revoke(token); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if err := ss.Revoke("deadbeef"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	sess, _ := ss.GetByToken(token)
	if sess.RevokedAt == nil {
		t.Error("expected session revoked")
	}

	// A revoked token presented for rotation is replay.
	_, _, err := ss.Rotate(token, time.Hour)
	if !errors.Is(err, apperr.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestSessionRevokeByID(t *testing.T) {
	ss, us, _ := setupSessionTestDB(t)

	u, _ := us.Create("alice@example.com", "Alice", "hash")
	sess, _, _ := ss.Create(u.ID, time.Hour)

	if err := ss.RevokeByID(sess.ID); err != nil {
		t.Fatalf("revoke by id: %v", err)
	}
	got, _ := ss.GetByID(sess.ID)
	if got.RevokedAt == nil {
		t.Error("expected session revoked")
	}
}
