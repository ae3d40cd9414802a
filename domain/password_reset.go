package domain

import "time"

// PasswordResetTicket is a single-use, time-limited grant to replace an
// account's password. Only the hash of the emailed token is stored.
type PasswordResetTicket struct {
	ID         string     `bson:"_id,omitempty" json:"id"`
	UserID     string     `bson:"user_id" json:"userId"`
	TokenHash  string     `bson:"token_hash" json:"-"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
	ExpiresAt  time.Time  `bson:"expires_at" json:"expiresAt"`
	ConsumedAt *time.Time `bson:"consumed_at,omitempty" json:"consumedAt,omitempty"`
}

// Usable reports whether the ticket can still be redeemed at now.
func (t *PasswordResetTicket) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}
