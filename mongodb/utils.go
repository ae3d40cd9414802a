package mongodb

import "github.com/google/uuid"

// NewID generates a new document ID. UUIDs are used instead of ObjectIDs so
// identifiers are opaque to clients and safe to embed in token claims.
func NewID() string {
	return uuid.NewString()
}
