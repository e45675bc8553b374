package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateSecret returns a URL-safe random string suitable for a JWT secret
// or API key.
func GenerateSecret() (string, error) {
	return generateRandomString(32)
}

// generateRandomString encodes length random bytes as unpadded base64url.
func generateRandomString(length int) (string, error) {
	if length == 0 {
		return "", nil
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
