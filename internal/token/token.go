package token

import (
	"time"

	"github.com/brightclass/file-api/internal/models"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

// Signer issues and verifies signed, time-limited file-access tokens.
// Both implementations honor identical payload semantics and identical
// failure conditions; callers cannot tell them apart.
type Signer interface {
	Issue(claims models.AccessClaims, ttl time.Duration) (string, error)
	Verify(token string) (*models.AccessClaims, error)
}

// Mode selects the signing mechanism.
type Mode string

const (
	// ModeJWT signs HS256 JSON Web Tokens.
	ModeJWT Mode = "jwt"
	// ModeHMAC signs compact dot-separated tokens with raw HMAC-SHA256,
	// for deployments that want tokens without the JWT envelope.
	ModeHMAC Mode = "hmac"
)

// NewSigner constructs the configured signer. An empty mode defaults to JWT.
func NewSigner(secret string, mode Mode) (Signer, error) {
	if secret == "" {
		return nil, appErrors.Clone(appErrors.ErrInternal, "token signing secret missing")
	}
	switch mode {
	case ModeHMAC:
		return newHMACSigner(secret), nil
	default:
		return newJWTSigner(secret), nil
	}
}

func validateClaims(claims *models.AccessClaims, now time.Time) error {
	if claims.Purpose != models.PurposeFileAccess {
		return appErrors.Clone(appErrors.ErrInvalidToken, "token purpose mismatch")
	}
	if !claims.ExpiresAt.After(now) {
		return appErrors.Clone(appErrors.ErrInvalidToken, "token expired")
	}
	return nil
}
