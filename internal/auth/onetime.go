package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Lifetimes of the one-time tokens mailed to users.
const (
	VerificationTTL = 24 * time.Hour
	ResetTTL        = time.Hour
)

// NewOneTimeToken returns 32 random bytes, hex encoded (64 characters).
// Used for email verification and password reset links.
func NewOneTimeToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating one-time token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
