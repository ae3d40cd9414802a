package federation

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mealtrace/mealtrace/domain"
)

// GoogleJWKSURL is where Google publishes its ID-token signing keys.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// Google signs ID tokens under either issuer form.
var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleVerifier verifies Google Sign-In ID tokens.
type GoogleVerifier struct {
	clientID string
	keys     *KeySet
}

// NewGoogleVerifier creates a verifier for ID tokens issued to the given
// OAuth client ID (the token audience).
func NewGoogleVerifier(clientID string, keys *KeySet) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, keys: keys}
}

func (g *GoogleVerifier) Provider() string { return domain.ProviderGoogle }

// Verify checks signature, expiry, audience and issuer of a Google ID token.
func (g *GoogleVerifier) Verify(ctx context.Context, rawToken string, hints Hints) (*Identity, error) {
	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, g.keys.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(g.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: google: %w", ErrTokenVerification, err)
	}

	if !issuedBy(claims.Issuer, googleIssuers) {
		return nil, fmt.Errorf("%w: google: unexpected issuer %q", ErrTokenVerification, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: google: token has no subject", ErrTokenVerification)
	}

	return &Identity{
		Provider:      domain.ProviderGoogle,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		DisplayName:   claims.Name,
		PhotoURL:      claims.Picture,
	}, nil
}

func issuedBy(issuer string, accepted []string) bool {
	for _, iss := range accepted {
		if issuer == iss {
			return true
		}
	}
	return false
}

var _ Verifier = (*GoogleVerifier)(nil)
