package domain

import "time"

// Session is the server-side record backing one refresh-token lineage.
// The refresh token value itself is never stored, only its SHA-256 hash.
//
// A session is either active (RevokedAt nil and not yet expired) or terminal.
// There is no transition out of the terminal states: rotation, logout and
// security revocation set RevokedAt, expiry is checked lazily at lookup.
type Session struct {
	ID               string     `bson:"_id,omitempty"`
	UserID           string     `bson:"user_id"`
	RefreshTokenHash string     `bson:"refresh_token_hash"`
	UserAgent        string     `bson:"user_agent,omitempty"`
	IPAddress        string     `bson:"ip_address,omitempty"`
	IssuedAt         time.Time  `bson:"issued_at"`
	ExpiresAt        time.Time  `bson:"expires_at"`
	RevokedAt        *time.Time `bson:"revoked_at,omitempty"`
}

// Active reports whether the session can still be used at the given instant.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
