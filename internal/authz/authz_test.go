package authz

import (
	"testing"

	"github.com/dukerupert/larder/internal/database"
	"github.com/dukerupert/larder/internal/store"
)

func TestRoleTable(t *testing.T) {
	tests := []struct {
		role   string
		action string
		want   bool
	}{
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionManage, false},
		{RoleEditor, ActionRead, true},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionManage, false},
		{RoleAdmin, ActionRead, true},
		{RoleAdmin, ActionWrite, true},
		{RoleAdmin, ActionManage, true},
		{"", ActionRead, false},
		{"owner", ActionRead, false},
	}

	for _, tt := range tests {
		if got := Allows(tt.role, tt.action); got != tt.want {
			t.Errorf("Allows(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.want)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleAdmin, RoleEditor, RoleViewer} {
		if !ValidRole(role) {
			t.Errorf("ValidRole(%q) = false", role)
		}
	}
	for _, role := range []string{"", "owner", "Admin"} {
		if ValidRole(role) {
			t.Errorf("ValidRole(%q) = true", role)
		}
	}
}

func setupGuardTest(t *testing.T) (*Guard, *store.HouseholdStore, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	hs := store.NewHouseholdStore(db)
	return NewGuard(hs), hs, store.NewUserStore(db)
}

func TestGuardCheck(t *testing.T) {
	guard, hs, us := setupGuardTest(t)

	admin, _ := us.Create("alice@example.com", "Alice", "h")
	viewer, _ := us.Create("bob@example.com", "Bob", "h")
	outsider, _ := us.Create("eve@example.com", "Eve", "h")
	h, _ := hs.Create("Baggins", admin.ID)
	hs.AddMember(h.ID, viewer.ID, RoleViewer)

	tests := []struct {
		name   string
		userID int64
		action string
		want   bool
	}{
		{"admin manage", admin.ID, ActionManage, true},
		{"admin write", admin.ID, ActionWrite, true},
		{"viewer read", viewer.ID, ActionRead, true},
		{"viewer write", viewer.ID, ActionWrite, false},
		{"viewer manage", viewer.ID, ActionManage, false},
		{"outsider read", outsider.ID, ActionRead, false},
		{"outsider manage", outsider.ID, ActionManage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := guard.Check(tt.userID, h.ID, tt.action)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if decision.Allow != tt.want {
				t.Errorf("allow = %v, want %v (reason %q)", decision.Allow, tt.want, decision.Reason)
			}
			if !decision.Allow && decision.Reason == "" {
				t.Error("deny must carry a reason")
			}
		})
	}
}

func TestGuardCheckUnknownHousehold(t *testing.T) {
	guard, _, us := setupGuardTest(t)

	u, _ := us.Create("alice@example.com", "Alice", "h")
	decision, err := guard.Check(u.ID, 12345, ActionRead)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if decision.Allow {
		t.Error("expected deny for unknown household")
	}
}
