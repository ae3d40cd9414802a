package domain

import "time"

// Identity provider names.
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

// LinkedIdentity binds an external identity provider subject to a local
// account. The (provider, provider_user_id) pair is unique, as is
// (user_id, provider).
type LinkedIdentity struct {
	ID             string    `bson:"_id,omitempty" json:"id"`
	UserID         string    `bson:"user_id" json:"userId"`
	Provider       string    `bson:"provider" json:"provider"`
	ProviderUserID string    `bson:"provider_user_id" json:"providerUserId"`
	Email          string    `bson:"email,omitempty" json:"email,omitempty"`
	DisplayName    string    `bson:"display_name,omitempty" json:"displayName,omitempty"`
	PhotoURL       string    `bson:"photo_url,omitempty" json:"photoUrl,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}
