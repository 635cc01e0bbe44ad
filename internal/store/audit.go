package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/larder/internal/model"
)

type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

const auditCols = `id, kind, user_id, family_id, detail, created_at`

// Record appends one audit event. The trail is append-only.
func (s *AuditStore) Record(kind string, userID int64, familyID, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (kind, user_id, family_id, detail) VALUES (?, ?, ?, ?)`,
		kind, userID, familyID, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns a user's audit events, newest first.
func (s *AuditStore) ListByUser(userID int64) ([]model.AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+auditCols+` FROM audit_events WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &e.FamilyID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
