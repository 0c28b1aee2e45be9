package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateRandomString produces a cryptographically random base64url string of n bytes.
func GenerateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateWebhookSecret generates a random shared secret suitable for a
// provider webhook token (32 bytes = 43 chars base64url).
func GenerateWebhookSecret() (string, error) {
	return GenerateRandomString(32)
}
