package punchout

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/noah-isme/backend-punchout/internal/common"
)

const tokenBytes = 32

// NewToken returns 256 random bits, base64url encoded.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenDigest is the stable, non-reversible key used where the raw token
// must not be stored.
func TokenDigest(token string) string {
	return common.Digest(token)
}

func validTokenShape(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(tokenBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil
}
