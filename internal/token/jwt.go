package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brightclass/file-api/internal/models"
	appErrors "github.com/brightclass/file-api/pkg/errors"
)

type fileAccessClaims struct {
	TeacherID string `json:"tid"`
	Filename  string `json:"fn"`
	SessionID string `json:"sid,omitempty"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

type jwtSigner struct {
	secret []byte
}

func newJWTSigner(secret string) *jwtSigner {
	return &jwtSigner{secret: []byte(secret)}
}

func (s *jwtSigner) Issue(claims models.AccessClaims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(ttl)

	jwtClaims := fileAccessClaims{
		TeacherID: claims.TeacherID,
		Filename:  claims.Filename,
		SessionID: claims.SessionID,
		Purpose:   models.PurposeFileAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign token")
	}
	return signed, nil
}

func (s *jwtSigner) Verify(tokenString string) (*models.AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &fileAccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid or expired token")
	}

	jwtClaims, ok := parsed.Claims.(*fileAccessClaims)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "malformed token claims")
	}

	claims := &models.AccessClaims{
		TeacherID: jwtClaims.TeacherID,
		Filename:  jwtClaims.Filename,
		SessionID: jwtClaims.SessionID,
		Purpose:   jwtClaims.Purpose,
	}
	if jwtClaims.IssuedAt != nil {
		claims.IssuedAt = jwtClaims.IssuedAt.Time
	}
	if jwtClaims.ExpiresAt != nil {
		claims.ExpiresAt = jwtClaims.ExpiresAt.Time
	}

	if err := validateClaims(claims, time.Now().UTC()); err != nil {
		return nil, err
	}
	return claims, nil
}
