package domain

import (
	"strings"
	"time"
)

// User represents a registered account. Accounts created through social login
// carry no password hash; password login is disabled for them until a
// password reset sets one.
type User struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password_hash,omitempty" json:"-"`
	DisplayName  string    `bson:"display_name,omitempty" json:"displayName,omitempty"`
	PhotoURL     string    `bson:"photo_url,omitempty" json:"photoUrl,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updatedAt"`
}

// HasPassword reports whether password login is possible for this account.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// NormalizeEmail canonicalizes an email address for storage and lookup.
// Uniqueness is enforced on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
