package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightclass/file-api/internal/models"
)

// AnalyticsRepository writes file access events. Writes are best effort;
// the serving path never waits on them.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// Insert records one access event.
func (r *AnalyticsRepository) Insert(ctx context.Context, event *models.AccessEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO file_access_events
	(id, teacher_id, storage_key, backend, method, status, size_bytes, duration_ms, created_at)
	VALUES (:id, :teacher_id, :storage_key, :backend, :method, :status, :size_bytes, :duration_ms, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("insert access event: %w", err)
	}
	return nil
}
