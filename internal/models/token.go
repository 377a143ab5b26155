package models

import "time"

// PurposeFileAccess distinguishes file-access tokens from any other signed
// artifact the platform issues. Verification rejects other purposes.
const PurposeFileAccess = "file-access"

// AccessClaims is the payload of a signed file-access token. Tokens are
// never persisted; they are verified purely by signature, expiry and
// purpose tag.
type AccessClaims struct {
	TeacherID string    `json:"teacherId"`
	Filename  string    `json:"filename"`
	SessionID string    `json:"sessionId,omitempty"`
	Purpose   string    `json:"purpose"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
