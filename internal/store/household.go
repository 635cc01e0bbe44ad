package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/model"
)

type HouseholdStore struct {
	db *sql.DB
}

func NewHouseholdStore(db *sql.DB) *HouseholdStore {
	return &HouseholdStore{db: db}
}

func scanHousehold(scanner interface{ Scan(...any) error }) (*model.Household, error) {
	var h model.Household
	err := scanner.Scan(&h.ID, &h.Name, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func scanHouseholdMember(scanner interface{ Scan(...any) error }) (*model.HouseholdMember, error) {
	var m model.HouseholdMember
	err := scanner.Scan(&m.ID, &m.HouseholdID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const householdCols = `id, name, created_at, updated_at`
const householdMemberCols = `id, household_id, user_id, role, created_at, updated_at`

// Create inserts a household and its owner's admin membership in one
// transaction, so a household is never observable without an admin.
func (s *HouseholdStore) Create(name string, ownerID int64) (*model.Household, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`INSERT INTO households (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert household: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO household_members (household_id, user_id, role) VALUES (?, ?, 'admin')`,
		id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *HouseholdStore) GetByID(id int64) (*model.Household, error) {
	row := s.db.QueryRow(`SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

func (s *HouseholdStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM households WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	return nil
}

// AddMember creates a membership. A user can hold at most one membership per
// household; the unique index backs up the pre-check.
func (s *HouseholdStore) AddMember(householdID, userID int64, role string) (*model.HouseholdMember, error) {
	existing, err := s.GetMember(householdID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.ErrDuplicateMembership
	}

	result, err := s.db.Exec(
		`INSERT INTO household_members (household_id, user_id, role) VALUES (?, ?, ?)`,
		householdID, userID, role,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, apperr.ErrDuplicateMembership
		}
		return nil, fmt.Errorf("add member: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+householdMemberCols+` FROM household_members WHERE id = ?`, id)
	return scanHouseholdMember(row)
}

// UpdateMemberRole changes a member's role. The last-admin check rides in the
// UPDATE's WHERE clause, so the check and the write are one atomic statement:
// two racing demotions cannot both pass a stale admin count.
func (s *HouseholdStore) UpdateMemberRole(householdID, userID int64, role string) (*model.HouseholdMember, error) {
	result, err := s.db.Exec(
		`UPDATE household_members SET role = ?, updated_at = datetime('now')
		 WHERE household_id = ? AND user_id = ?
		   AND (? = 'admin'
		        OR role <> 'admin'
		        OR (SELECT COUNT(*) FROM household_members
		            WHERE household_id = ? AND role = 'admin' AND user_id <> ?) > 0)`,
		role, householdID, userID, role, householdID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		member, err := s.GetMember(householdID, userID)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.ErrLastAdminViolation
	}
	return s.GetMember(householdID, userID)
}

// RemoveMember deletes a membership, refusing to remove the last admin.
// Same single-statement guard as UpdateMemberRole.
func (s *HouseholdStore) RemoveMember(householdID, userID int64) error {
	result, err := s.db.Exec(
		`DELETE FROM household_members
		 WHERE household_id = ? AND user_id = ?
		   AND (role <> 'admin'
		        OR (SELECT COUNT(*) FROM household_members
		            WHERE household_id = ? AND role = 'admin' AND user_id <> ?) > 0)`,
		householdID, userID, householdID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		member, err := s.GetMember(householdID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperr.ErrNotFound
		}
		return apperr.ErrLastAdminViolation
	}
	return nil
}

func (s *HouseholdStore) GetMember(householdID, userID int64) (*model.HouseholdMember, error) {
	row := s.db.QueryRow(
		`SELECT `+householdMemberCols+` FROM household_members WHERE household_id = ? AND user_id = ?`,
		householdID, userID,
	)
	m, err := scanHouseholdMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// ListMembers returns every membership joined with the member's identity.
func (s *HouseholdStore) ListMembers(householdID int64) ([]model.MemberView, error) {
	rows, err := s.db.Query(
		`SELECT hm.id, hm.user_id, u.email, u.name, hm.role, hm.created_at
		 FROM household_members hm
		 JOIN users u ON u.id = hm.user_id
		 WHERE hm.household_id = ?
		 ORDER BY hm.created_at ASC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.MemberView
	for rows.Next() {
		var m model.MemberView
		if err := rows.Scan(&m.MembershipID, &m.UserID, &m.Email, &m.Name, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *HouseholdStore) ListHouseholdsForUser(userID int64) ([]model.Household, error) {
	rows, err := s.db.Query(
		`SELECT h.id, h.name, h.created_at, h.updated_at
		 FROM households h
		 JOIN household_members hm ON h.id = hm.household_id
		 WHERE hm.user_id = ?
		 ORDER BY h.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list households for user: %w", err)
	}
	defer rows.Close()

	var households []model.Household
	for rows.Next() {
		h, err := scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan household: %w", err)
		}
		households = append(households, *h)
	}
	return households, rows.Err()
}

// AdminCount returns the number of admin memberships in a household.
func (s *HouseholdStore) AdminCount(householdID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM household_members WHERE household_id = ? AND role = 'admin'`,
		householdID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}
