package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SessionRepository validates chat sessions against the sessions table
// owned by the chat platform.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Validate reports whether the session exists, is active and belongs to
// the given teacher.
func (r *SessionRepository) Validate(ctx context.Context, sessionID, teacherID string) (bool, error) {
	const query = `SELECT teacher_id FROM sessions WHERE id = $1 AND active = TRUE`
	var ownerID string
	if err := r.db.GetContext(ctx, &ownerID, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("validate session %s: %w", sessionID, err)
	}
	if teacherID == "" {
		return true, nil
	}
	return ownerID == teacherID, nil
}
