package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/larder/internal/apperr"
	"github.com/dukerupert/larder/internal/auth"
	"github.com/dukerupert/larder/internal/model"
)

type SessionStore struct {
	db    *sql.DB
	audit *AuditStore
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, audit: NewAuditStore(db)}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	var predecessor sql.NullInt64
	var rotatedAt, revokedAt sql.NullTime

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.FamilyID, &s.TokenHash, &predecessor,
		&s.IssuedAt, &s.ExpiresAt, &rotatedAt, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	if predecessor.Valid {
		s.PredecessorID = &predecessor.Int64
	}
	if rotatedAt.Valid {
		s.RotatedAt = &rotatedAt.Time
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return &s, nil
}

const sessionCols = `id, user_id, family_id, token_hash, predecessor_id, issued_at, expires_at, rotated_at, revoked_at`

// Create starts a new token family for a fresh login. The cleartext refresh
// token is returned once and never stored.
func (s *SessionStore) Create(userID int64, ttl time.Duration) (*model.Session, string, error) {
	token, hash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}
	familyID := uuid.NewString()
	expiresAt := time.Now().UTC().Add(ttl)

	result, err := s.db.Exec(
		`INSERT INTO sessions (user_id, family_id, token_hash, expires_at) VALUES (?, ?, ?, ?)`,
		userID, familyID, hash, expiresAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, "", fmt.Errorf("last insert id: %w", err)
	}
	sess, err := s.GetByID(id)
	if err != nil {
		return nil, "", err
	}
	return sess, token, nil
}

func (s *SessionStore) GetByID(id int64) (*model.Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetByToken looks up the session for a presented refresh token.
func (s *SessionStore) GetByToken(token string) (*model.Session, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionCols+` FROM sessions WHERE token_hash = ?`,
		auth.HashRefreshToken(token),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

// Rotate exchanges a presented refresh token for a successor in the same
// family. Presenting a token that was already rotated or revoked is replay:
// the whole family is revoked, the event is audited, and the call fails with
// ErrTokenInvalid. The guarded UPDATE ensures exactly one of two concurrent
// rotations of the same token wins; the loser takes the replay path.
func (s *SessionStore) Rotate(token string, ttl time.Duration) (*model.Session, string, error) {
	current, err := s.GetByToken(token)
	if err != nil {
		return nil, "", err
	}
	if current == nil {
		return nil, "", apperr.ErrTokenInvalid
	}
	if current.RotatedAt != nil || current.RevokedAt != nil {
		if err := s.revokeFamilyForReplay(current); err != nil {
			return nil, "", err
		}
		return nil, "", apperr.ErrTokenInvalid
	}
	if !time.Now().UTC().Before(current.ExpiresAt) {
		return nil, "", apperr.ErrTokenInvalid
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE sessions SET rotated_at = datetime('now')
		 WHERE id = ? AND rotated_at IS NULL AND revoked_at IS NULL`,
		current.ID,
	)
	if err != nil {
		return nil, "", fmt.Errorf("mark rotated: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, "", fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Lost the race: someone else rotated or revoked this token first.
		tx.Rollback()
		if err := s.revokeFamilyForReplay(current); err != nil {
			return nil, "", err
		}
		return nil, "", apperr.ErrTokenInvalid
	}

	newToken, newHash, err := auth.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}
	expiresAt := time.Now().UTC().Add(ttl)

	insert, err := tx.Exec(
		`INSERT INTO sessions (user_id, family_id, token_hash, predecessor_id, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		current.UserID, current.FamilyID, newHash, current.ID, expiresAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert successor: %w", err)
	}
	id, err := insert.LastInsertId()
	if err != nil {
		return nil, "", fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit: %w", err)
	}

	sess, err := s.GetByID(id)
	if err != nil {
		return nil, "", err
	}
	return sess, newToken, nil
}

// revokeFamilyForReplay revokes every session in the family and records the
// security event. Replay of a superseded token means the token may be stolen;
// nothing descended from that login can be trusted.
func (s *SessionStore) revokeFamilyForReplay(sess *model.Session) error {
	if err := s.RevokeFamily(sess.FamilyID); err != nil {
		return err
	}
	detail := fmt.Sprintf("refresh token replay detected for session %d", sess.ID)
	if err := s.audit.Record(model.AuditTokenReplay, sess.UserID, sess.FamilyID, detail); err != nil {
		return err
	}
	return nil
}

// Revoke marks the session for a presented token revoked. Idempotent: a
// token that is unknown or already revoked is not an error.
func (s *SessionStore) Revoke(token string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET revoked_at = datetime('now')
		 WHERE token_hash = ? AND revoked_at IS NULL`,
		auth.HashRefreshToken(token),
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeByID force-revokes a single session row (administrative).
func (s *SessionStore) RevokeByID(id int64) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("revoke session by id: %w", err)
	}
	return nil
}

// RevokeFamily revokes every not-yet-revoked session in a token family.
func (s *SessionStore) RevokeFamily(familyID string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET revoked_at = datetime('now')
		 WHERE family_id = ? AND revoked_at IS NULL`,
		familyID,
	)
	if err != nil {
		return fmt.Errorf("revoke family: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions whose expiry has long passed. Hygiene only;
// expired tokens are already unusable.
func (s *SessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= datetime('now', '-7 days')`)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
