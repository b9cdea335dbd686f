// Package security provides the session token generator and the digest
// used for stored credentials.
package security

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateToken returns a random 36-character session token (UUID v4 in
// canonical text form). Uniqueness is enforced by the session store; a
// duplicate insert is retried there, not here.
func GenerateToken() string {
	return uuid.NewString()
}

// HashValue returns the SHA-256 digest of value as 64 lowercase hex
// characters. Raw passwords never leave this function's callers.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
