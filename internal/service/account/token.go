package account

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// newAccountKey produces a cryptographically random, URL-safe, one-time key.
// 32 bytes of entropy make collisions negligible over the store's lifetime.
func newAccountKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate account key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
