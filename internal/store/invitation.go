package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/model"
)

type InvitationStore struct {
	db *sql.DB
}

func NewInvitationStore(db *sql.DB) *InvitationStore {
	return &InvitationStore{db: db}
}

func scanInvitation(scanner interface{ Scan(...any) error }) (*model.Invitation, error) {
	var inv model.Invitation
	var usedAt, revokedAt sql.NullTime
	var usedBy sql.NullInt64

	err := scanner.Scan(
		&inv.ID, &inv.HouseholdID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy,
		&inv.CreatedAt, &inv.ExpiresAt, &usedAt, &usedBy, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	if usedAt.Valid {
		inv.UsedAt = &usedAt.Time
	}
	if usedBy.Valid {
		inv.UsedBy = &usedBy.Int64
	}
	if revokedAt.Valid {
		inv.RevokedAt = &revokedAt.Time
	}
	return &inv, nil
}

const invitationCols = `id, household_id, email, role, token, invited_by, created_at, expires_at, used_at, used_by, revoked_at`

// Create issues a single-use invitation. At most one unexpired pending
// invitation may exist per (email, household).
func (s *InvitationStore) Create(householdID int64, email, role string, invitedBy int64, ttl time.Duration) (*model.Invitation, error) {
	var existing int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM invitations
		 WHERE household_id = ? AND email = ?
		   AND used_at IS NULL AND revoked_at IS NULL AND expires_at > datetime('now')`,
		householdID, email,
	).Scan(&existing)
	if err != nil {
		return nil, fmt.Errorf("check pending invitation: %w", err)
	}
	if existing > 0 {
		return nil, apperr.ErrDuplicatePendingInvitation
	}

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(ttl)

	result, err := s.db.Exec(
		`INSERT INTO invitations (household_id, email, role, token, invited_by, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		householdID, email, role, token, invitedBy, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert invitation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE id = ?`, id)
	return scanInvitation(row)
}

func (s *InvitationStore) GetByID(id int64) (*model.Invitation, error) {
	row := s.db.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE id = ?`, id)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return inv, nil
}

func (s *InvitationStore) GetByToken(token string) (*model.Invitation, error) {
	row := s.db.QueryRow(`SELECT `+invitationCols+` FROM invitations WHERE token = ?`, token)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invitation by token: %w", err)
	}
	return inv, nil
}

// Accept consumes a pending invitation and creates the resulting membership
// in one transaction. The consume is a guarded UPDATE whose WHERE clause
// re-checks pending state and expiry, so of two racing accepts exactly one
// wins; the loser sees zero rows and reports why. Partial completion (token
// consumed without a membership, or the reverse) is never observable.
func (s *InvitationStore) Accept(token string, userID int64) (*model.HouseholdMember, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE invitations SET used_at = datetime('now'), used_by = ?
		 WHERE token = ? AND used_at IS NULL AND revoked_at IS NULL AND expires_at > datetime('now')`,
		userID, token,
	)
	if err != nil {
		return nil, fmt.Errorf("consume invitation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		tx.Rollback()
		inv, err := s.GetByToken(token)
		if err != nil {
			return nil, err
		}
		switch {
		case inv == nil:
			return nil, apperr.ErrNotFound
		case inv.UsedAt != nil || inv.RevokedAt != nil:
			return nil, apperr.ErrInvitationAlreadyUsed
		default:
			return nil, apperr.ErrInvitationExpired
		}
	}

	var inv model.Invitation
	row := tx.QueryRow(`SELECT household_id, role FROM invitations WHERE token = ?`, token)
	if err := row.Scan(&inv.HouseholdID, &inv.Role); err != nil {
		return nil, fmt.Errorf("read consumed invitation: %w", err)
	}

	insert, err := tx.Exec(
		`INSERT INTO household_members (household_id, user_id, role) VALUES (?, ?, ?)`,
		inv.HouseholdID, userID, inv.Role,
	)
	if err != nil {
		// Rolling back leaves the invitation pending for someone else.
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, apperr.ErrDuplicateMembership
		}
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	memberID, err := insert.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	memberRow := s.db.QueryRow(
		`SELECT `+householdMemberCols+` FROM household_members WHERE id = ?`, memberID,
	)
	return scanHouseholdMember(memberRow)
}

// Revoke explicitly terminates a pending invitation. Idempotent on already
// terminal rows.
func (s *InvitationStore) Revoke(token string) error {
	_, err := s.db.Exec(
		`UPDATE invitations SET revoked_at = datetime('now')
		 WHERE token = ? AND used_at IS NULL AND revoked_at IS NULL`,
		token,
	)
	if err != nil {
		return fmt.Errorf("revoke invitation: %w", err)
	}
	return nil
}

// ListForHousehold returns all invitations for a household, newest first.
func (s *InvitationStore) ListForHousehold(householdID int64) ([]model.Invitation, error) {
	rows, err := s.db.Query(
		`SELECT `+invitationCols+` FROM invitations WHERE household_id = ? ORDER BY created_at DESC`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []model.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, *inv)
	}
	return invitations, rows.Err()
}

// DeleteExpired removes invitations whose expiry has long passed. Storage
// hygiene only; expiry is already enforced at accept time.
func (s *InvitationStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(
		`DELETE FROM invitations WHERE used_at IS NULL AND expires_at <= datetime('now', '-30 days')`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired invitations: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
