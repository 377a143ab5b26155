package models

import "time"

// ProcessingStatus tracks post-upload work (thumbnailing) on a file.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// FileRecord is the metadata row for one stored file. Ownership is fixed at
// creation; only processing status and the thumbnail key mutate afterwards.
type FileRecord struct {
	ID           string           `db:"id" json:"id"`
	TeacherID    string           `db:"teacher_id" json:"teacherId"`
	StorageKey   string           `db:"storage_key" json:"storageKey"`
	OriginalName string           `db:"original_name" json:"originalName"`
	MimeType     string           `db:"mime_type" json:"mimeType"`
	SizeBytes    int64            `db:"size_bytes" json:"sizeBytes"`
	Backend      string           `db:"backend" json:"backend"`
	ETag         string           `db:"etag" json:"etag"`
	ThumbnailKey *string          `db:"thumbnail_key" json:"thumbnailKey,omitempty"`
	Status       ProcessingStatus `db:"status" json:"status"`
	SessionID    *string          `db:"session_id" json:"sessionId,omitempty"`
	MessageID    *string          `db:"message_id" json:"messageId,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
}

// QuotaUsage pairs a teacher's byte usage with the configured cap.
type QuotaUsage struct {
	UsedBytes int64 `json:"usedBytes"`
	CapBytes  int64 `json:"capBytes"`
}

// Remaining returns the bytes left before the cap, never negative.
func (q QuotaUsage) Remaining() int64 {
	if q.UsedBytes >= q.CapBytes {
		return 0
	}
	return q.CapBytes - q.UsedBytes
}

// RateLimitResult is the outcome of one fixed-window check.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// AccessEvent is a best-effort analytics record for one serve or upload.
type AccessEvent struct {
	ID         string    `db:"id" json:"id"`
	TeacherID  string    `db:"teacher_id" json:"teacherId"`
	StorageKey string    `db:"storage_key" json:"storageKey"`
	Backend    string    `db:"backend" json:"backend"`
	Method     string    `db:"method" json:"method"`
	Status     int       `db:"status" json:"status"`
	SizeBytes  int64     `db:"size_bytes" json:"sizeBytes"`
	DurationMs int64     `db:"duration_ms" json:"durationMs"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
