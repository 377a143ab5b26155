package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// KeyGenerator derives collision-resistant storage keys for uploads.
//
// Key shape: {ownerPrefix}-{unixMilli}-{contentHash}-{randomSuffix}{ext}.
// Two owners uploading in the same millisecond differ in the owner prefix;
// the same owner uploading twice in one millisecond differs in the random
// suffix. The original extension is kept (lower-cased) so MIME inference
// on the stored key stays correct.
type KeyGenerator struct{}

// NewKeyGenerator constructs a generator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate returns a new storage key for the given owner and original name.
func (g *KeyGenerator) Generate(teacherID, originalName string, now time.Time) string {
	prefix := ownerPrefix(teacherID)
	millis := now.UnixMilli()
	hash := contentHash(teacherID, originalName, millis)
	suffix := randomSuffix()
	ext := strings.ToLower(filepath.Ext(originalName))

	return fmt.Sprintf("%s-%d-%s-%s%s", prefix, millis, hash, suffix, ext)
}

func ownerPrefix(teacherID string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return -1
		}
	}, teacherID)
	if cleaned == "" {
		cleaned = "anon"
	}
	if len(cleaned) > 8 {
		cleaned = cleaned[:8]
	}
	return cleaned
}

func contentHash(teacherID, originalName string, millis int64) string {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%d", teacherID, originalName, millis)))
	return hex.EncodeToString(sum[:])[:12]
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(buf)
}
