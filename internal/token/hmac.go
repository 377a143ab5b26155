package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brightclass/file-api/internal/models"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

// hmacSigner signs a base64 payload with HMAC-SHA256 producing
// {payload}.{signature}. Payload semantics match the JWT signer exactly.
type hmacSigner struct {
	secret []byte
}

func newHMACSigner(secret string) *hmacSigner {
	return &hmacSigner{secret: []byte(secret)}
}

type hmacPayload struct {
	TeacherID string `json:"tid"`
	Filename  string `json:"fn"`
	SessionID string `json:"sid,omitempty"`
	Purpose   string `json:"purpose"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (s *hmacSigner) Issue(claims models.AccessClaims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuedAt := time.Now().UTC()

	payload := hmacPayload{
		TeacherID: claims.TeacherID,
		Filename:  claims.Filename,
		SessionID: claims.SessionID,
		Purpose:   models.PurposeFileAccess,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: issuedAt.Add(ttl).Unix(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode token payload")
	}
	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return fmt.Sprintf("%s.%s", encoded, s.sign(encoded)), nil
}

func (s *hmacSigner) Verify(token string) (*models.AccessClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "malformed token")
	}
	encoded, signature := parts[0], parts[1]

	if !hmac.Equal([]byte(s.sign(encoded)), []byte(signature)) {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "malformed token payload")
	}
	var payload hmacPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "malformed token payload")
	}

	claims := &models.AccessClaims{
		TeacherID: payload.TeacherID,
		Filename:  payload.Filename,
		SessionID: payload.SessionID,
		Purpose:   payload.Purpose,
		IssuedAt:  time.Unix(payload.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(payload.ExpiresAt, 0).UTC(),
	}

	if err := validateClaims(claims, time.Now().UTC()); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *hmacSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
