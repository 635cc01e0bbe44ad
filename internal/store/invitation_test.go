package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/database"
	"github.com/dukerupert/larder/internal/model"
)

func setupInvitationTestDB(t *testing.T) (*InvitationStore, *HouseholdStore, *UserStore) {
	is, hs, us, _ := setupInvitationTestDBWithHandle(t)
	return is, hs, us
}

func setupInvitationTestDBWithHandle(t *testing.T) (*InvitationStore, *HouseholdStore, *UserStore, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewInvitationStore(db), NewHouseholdStore(db), NewUserStore(db), db
}

func TestInvitationCreate(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	inv, err := is.Create(h.ID, "bob@example.com", "editor", owner.ID, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if inv.Token == "" {
		t.Error("expected non-empty token")
	}
	if inv.Status(time.Now().UTC()) != model.InvitationPending {
		t.Errorf("status = %q, want pending", inv.Status(time.Now().UTC()))
	}
}

func TestInvitationDuplicatePending(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	if _, err := is.Create(h.ID, "bob@example.com", "editor", owner.ID, time.Hour); err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	_, err := is.Create(h.ID, "bob@example.com", "viewer", owner.ID, time.Hour)
	if !errors.Is(err, apperr.ErrDuplicatePendingInvitation) {
		t.Fatalf("expected ErrDuplicatePendingInvitation, got %v", err)
	}

	// An expired pending row does not block a new invitation.
	if _, err := is.Create(h.ID, "carol@example.com", "viewer", owner.ID, -time.Minute); err != nil {
		t.Fatalf("create expired invitation: %v", err)
	}
	if _, err := is.Create(h.ID, "carol@example.com", "viewer", owner.ID, time.Hour); err != nil {
		t.Fatalf("re-invite after expiry: %v", err)
	}
}

func TestInvitationAccept(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	bob, _ := us.Create("bob@example.com", "Bob", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	inv, _ := is.Create(h.ID, "bob@example.com", "editor", owner.ID, 7*24*time.Hour)

	member, err := is.Accept(inv.Token, bob.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if member.HouseholdID != h.ID || member.UserID != bob.ID || member.Role != "editor" {
		t.Errorf("membership = %+v, want (household=%d, user=%d, editor)", member, h.ID, bob.ID)
	}

	got, _ := is.GetByToken(inv.Token)
	if got.Status(time.Now().UTC()) != model.InvitationAccepted {
		t.Errorf("status = %q, want accepted", got.Status(time.Now().UTC()))
	}
	if got.UsedBy == nil || *got.UsedBy != bob.ID {
		t.Error("expected used_by to record the accepting user")
	}

	// Second accept with the same token fails; no duplicate membership.
	_, err = is.Accept(inv.Token, bob.ID)
	if !errors.Is(err, apperr.ErrInvitationAlreadyUsed) {
		t.Fatalf("expected ErrInvitationAlreadyUsed, got %v", err)
	}
	members, _ := hs.ListMembers(h.ID)
	if len(members) != 2 {
		t.Errorf("len(members) = %d, want 2", len(members))
	}
}

func TestInvitationAcceptExpired(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	bob, _ := us.Create("bob@example.com", "Bob", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	inv, _ := is.Create(h.ID, "bob@example.com", "editor", owner.ID, -time.Minute)

	_, err := is.Accept(inv.Token, bob.ID)
	if !errors.Is(err, apperr.ErrInvitationExpired) {
		t.Fatalf("expected ErrInvitationExpired, got %v", err)
	}

	// No membership was created.
	member, _ := hs.GetMember(h.ID, bob.ID)
	if member != nil {
		t.Error("expected no membership from expired invitation")
	}
}

func TestInvitationAcceptUnknownToken(t *testing.T) {
	is, _, us := setupInvitationTestDB(t)

	bob, _ := us.Create("bob@example.com", "Bob", "hash")
	_, err := is.Accept("no-such-token", bob.ID)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvitationAcceptExistingMemberLeavesTokenPending(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	bob, _ := us.Create("bob@example.com", "Bob", "hash")
	h, _ := hs.Create("Baggins", owner.ID)
	hs.AddMember(h.ID, bob.ID, "viewer")

	inv, _ := is.Create(h.ID, "bob@example.com", "editor", owner.ID, time.Hour)

	_, err := is.Accept(inv.Token, bob.ID)
	if !errors.Is(err, apperr.ErrDuplicateMembership) {
		t.Fatalf("expected ErrDuplicateMembership, got %v", err)
	}

	// The whole accept rolled back: token still pending, role unchanged.
	got, _ := is.GetByToken(inv.Token)
	if got.Status(time.Now().UTC()) != model.InvitationPending {
		t.Errorf("status = %q, want pending after rollback", got.Status(time.Now().UTC()))
	}
	member, _ := hs.GetMember(h.ID, bob.ID)
	if member.Role != "viewer" {
		t.Errorf("role = %q, want viewer unchanged", member.Role)
	}
}

func TestInvitationRevoke(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	bob, _ := us.Create("bob@example.com", "Bob", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	inv, _ := is.Create(h.ID, "bob@example.com", "editor", owner.ID, time.Hour)
	if err := is.Revoke(inv.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, err := is.Accept(inv.Token, bob.ID)
	if !errors.Is(err, apperr.ErrInvitationAlreadyUsed) {
		t.Fatalf("expected ErrInvitationAlreadyUsed for revoked token, got %v", err)
	}
}

func TestInvitationListForHousehold(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	is.Create(h.ID, "bob@example.com", "editor", owner.ID, time.Hour)
	is.Create(h.ID, "carol@example.com", "viewer", owner.ID, time.Hour)

	invitations, err := is.ListForHousehold(h.ID)
	if err != nil {
		t.Fatalf("list invitations: %v", err)
	}
	if len(invitations) != 2 {
		t.Fatalf("len(invitations) = %d, want 2", len(invitations))
	}
}

func TestInvitationDeleteExpired(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	h, _ := hs.Create("Baggins", owner.ID)

	// Long past expiry; eligible for the sweep.
	is.Create(h.ID, "old@example.com", "viewer", owner.ID, -60*24*time.Hour)
	is.Create(h.ID, "new@example.com", "viewer", owner.ID, time.Hour)

	n, err := is.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestInvitationGetByID(t *testing.T) {
	is, hs, us := setupInvitationTestDB(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	h, _ := hs.Create("Baggins", owner.ID)
	inv, _ := is.Create(h.ID, "bob@example.com", "editor", owner.ID, time.Hour)

	got, err := is.GetByID(inv.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got == nil || got.Token != inv.Token {
		t.Fatalf("got %+v, want invitation %d", got, inv.ID)
	}

	missing, err := is.GetByID(999)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown id, got %+v", missing)
	}
}

func TestInvitationAcceptStorageFailureIsNotDuplicate(t *testing.T) {
	is, hs, us, db := setupInvitationTestDBWithHandle(t)

	owner, _ := us.Create("alice@example.com", "Alice", "hash")
	bob, _ := us.Create("bob@example.com", "Bob", "hash")
	h, _ := hs.Create("Baggins", owner.ID)
	inv, _ := is.Create(h.ID, "bob@example.com", "editor", owner.ID, time.Hour)

	// Break the membership table so the INSERT inside accept fails for a
	// reason other than a uniqueness conflict.
	if _, err := db.Exec("DROP TABLE household_members"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := is.Accept(inv.Token, bob.ID)
	if err == nil {
		t.Fatal("expected error from broken storage")
	}
	if errors.Is(err, apperr.ErrDuplicateMembership) {
		t.Fatalf("storage failure reported as duplicate membership: %v", err)
	}
}
