package federation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mealtrace/mealtrace/domain"
)

// AppleJWKSURL is where Apple publishes its identity-token signing keys.
const AppleJWKSURL = "https://appleid.apple.com/auth/keys"

const appleIssuer = "https://appleid.apple.com"

// Apple serializes some boolean claims as the strings "true"/"false".
type appleBool bool

func (b *appleBool) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("unexpected boolean claim %q", string(data))
	}
	*b = appleBool(v)
	return nil
}

type appleClaims struct {
	jwt.RegisteredClaims
	Email          string    `json:"email"`
	EmailVerified  appleBool `json:"email_verified"`
	IsPrivateEmail appleBool `json:"is_private_email"`
}

// AppleVerifier verifies Sign in with Apple identity tokens.
//
// Apple sends the user's name (and, for private-relay users, sometimes the
// email) only in the first authorization response, never in later tokens.
// The client forwards those first-auth fields in the request body; they are
// consumed through Hints and used only where the verified token carries no
// claim of its own.
type AppleVerifier struct {
	clientID string // the app's bundle ID / services ID, i.e. the audience
	keys     *KeySet
}

// NewAppleVerifier creates a verifier for identity tokens issued to the
// given bundle or services ID.
func NewAppleVerifier(clientID string, keys *KeySet) *AppleVerifier {
	return &AppleVerifier{clientID: clientID, keys: keys}
}

func (a *AppleVerifier) Provider() string { return domain.ProviderApple }

// Verify checks signature, expiry, audience and issuer of an Apple identity
// token.
func (a *AppleVerifier) Verify(ctx context.Context, rawToken string, hints Hints) (*Identity, error) {
	claims := &appleClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, a.keys.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(a.clientID),
		jwt.WithIssuer(appleIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: apple: %w", ErrTokenVerification, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: apple: token has no subject", ErrTokenVerification)
	}

	email := claims.Email
	emailVerified := bool(claims.EmailVerified)
	if email == "" {
		// First-auth hint from the request body. The token does not attest
		// to it, so it must never count as verified.
		email = hints.Email
		emailVerified = false
	}

	return &Identity{
		Provider:      domain.ProviderApple,
		Subject:       claims.Subject,
		Email:         email,
		EmailVerified: emailVerified,
		DisplayName:   hints.FullName,
	}, nil
}

var _ Verifier = (*AppleVerifier)(nil)
