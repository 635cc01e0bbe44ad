// Package authz is the single decision point for household-scoped access.
// Every household endpoint asks the Guard before touching data; nothing else
// re-implements role checks.
package authz

import (
	"fmt"

	"github.com/dukerupert/larder/internal/store"
)

// Roles, ordered by capability.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Actions a membership can be checked against.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionManage = "manage"
)

// rolePerms is the fixed role → permitted-action table. No other permission
// logic exists anywhere in the application.
var rolePerms = map[string]map[string]bool{
	RoleViewer: {ActionRead: true},
	RoleEditor: {ActionRead: true, ActionWrite: true},
	RoleAdmin:  {ActionRead: true, ActionWrite: true, ActionManage: true},
}

// ValidRole reports whether role is one of the three fixed tiers.
func ValidRole(role string) bool {
	_, ok := rolePerms[role]
	return ok
}

// Decision is the outcome of one authorization check.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

var allow = Decision{Allow: true}

// Allows answers the pure table lookup without touching storage.
func Allows(role, action string) bool {
	return rolePerms[role][action]
}

// Guard resolves a principal's membership and applies the role table.
type Guard struct {
	households *store.HouseholdStore
}

func NewGuard(hs *store.HouseholdStore) *Guard {
	return &Guard{households: hs}
}

// Check answers whether userID may perform action in householdID.
// A principal with no membership is always denied.
func (g *Guard) Check(userID, householdID int64, action string) (Decision, error) {
	member, err := g.households.GetMember(householdID, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("check membership: %w", err)
	}
	if member == nil {
		return Decision{Reason: "not a member of this household"}, nil
	}
	if !Allows(member.Role, action) {
		return Decision{Reason: fmt.Sprintf("role %s may not %s", member.Role, action)}, nil
	}
	return allow, nil
}
