// Package cache holds small helpers shared by the token and session stores.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex-encoded SHA-256 digest of an opaque token.
// Refresh tokens and password-reset tokens are stored and looked up only by
// this digest; the plaintext value never reaches a store.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
