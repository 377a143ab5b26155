package dto

import (
	"github.com/go-playground/validator/v10"
)

// UploadFileRequest is the multipart form accompanying an upload.
type UploadFileRequest struct {
	TeacherID string `form:"teacherId" binding:"required,idchars"`
	SessionID string `form:"sessionId" binding:"omitempty,idchars"`
	MessageID string `form:"messageId" binding:"omitempty,idchars"`
}

// ListFilesRequest filters a teacher's file listing.
type ListFilesRequest struct {
	TeacherID string `form:"teacherId" binding:"required,idchars"`
	Limit     int    `form:"limit" binding:"omitempty,min=0,max=200"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

// RegisterValidations installs the custom binding rules the DTOs rely on.
// Call once at startup against gin's validator engine.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("idchars", validIDChars)
}

// validIDChars accepts the identifier alphabet used by the chat platform:
// letters, digits, hyphen, underscore and dot.
func validIDChars(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
