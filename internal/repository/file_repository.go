package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brightclass/file-api/internal/models"
)

// FileRepository handles file metadata persistence.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, teacher_id, storage_key, original_name, mime_type, size_bytes,
       backend, etag, thumbnail_key, status, session_id, message_id, created_at`

// Create stores metadata for an uploaded file.
func (r *FileRepository) Create(ctx context.Context, record *models.FileRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = models.StatusPending
	}
	const query = `INSERT INTO file_records
	(id, teacher_id, storage_key, original_name, mime_type, size_bytes, backend, etag, thumbnail_key, status, session_id, message_id, created_at)
	VALUES (:id, :teacher_id, :storage_key, :original_name, :mime_type, :size_bytes, :backend, :etag, :thumbnail_key, :status, :session_id, :message_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

// GetByID retrieves one file record.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE id = $1`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByStorageKey retrieves the record owning a stored object.
func (r *FileRepository) GetByStorageKey(ctx context.Context, storageKey string) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE storage_key = $1`
	var record models.FileRecord
	if err := r.db.GetContext(ctx, &record, query, storageKey); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByTeacher returns a teacher's files, newest first.
func (r *FileRepository) ListByTeacher(ctx context.Context, teacherID string, limit, offset int) ([]models.FileRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + fileColumns + ` FROM file_records WHERE teacher_id = $1
	ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	var records []models.FileRecord
	if err := r.db.SelectContext(ctx, &records, query, teacherID, limit, offset); err != nil {
		return nil, fmt.Errorf("list files for teacher %s: %w", teacherID, err)
	}
	return records, nil
}

// UpdateStatus transitions the processing status.
func (r *FileRepository) UpdateStatus(ctx context.Context, id string, status models.ProcessingStatus) error {
	const query = `UPDATE file_records SET status = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return requireRow(res)
}

// AttachThumbnail records the generated thumbnail key and completes
// processing in one statement.
func (r *FileRepository) AttachThumbnail(ctx context.Context, id, thumbnailKey string) error {
	const query = `UPDATE file_records SET thumbnail_key = $2, status = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, thumbnailKey, models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("attach thumbnail: %w", err)
	}
	return requireRow(res)
}

// Delete removes the metadata row. Callers delete the stored object first
// so a failure here leaves an orphaned row rather than an orphaned object.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM file_records WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return requireRow(res)
}

// UsageByTeacher sums stored bytes for quota checks.
func (r *FileRepository) UsageByTeacher(ctx context.Context, teacherID string) (int64, error) {
	const query = `SELECT COALESCE(SUM(size_bytes), 0) FROM file_records WHERE teacher_id = $1`
	var used int64
	if err := r.db.GetContext(ctx, &used, query, teacherID); err != nil {
		return 0, fmt.Errorf("sum usage for teacher %s: %w", teacherID, err)
	}
	return used, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
