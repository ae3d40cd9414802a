// Package federation verifies identity tokens issued by external providers
// (Google Sign-In, Sign in with Apple) and maps them to a provider-neutral
// identity. Tokens arrive from mobile clients as raw JWTs; verification is
// signature + issuer + audience + expiry against the provider's published
// JWKS. New providers are added by implementing Verifier and registering it.
package federation

import "context"

// Identity is the standardized result of a successful token verification.
type Identity struct {
	Provider      string
	Subject       string // the provider's unique user ID ("sub" claim)
	Email         string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
}

// Hints carries user fields posted alongside the token. Apple only includes
// name (and sometimes email) in its first authorization response, so the
// client forwards them out of band; they are trusted only where the verified
// token itself has no corresponding claim.
type Hints struct {
	Email    string
	FullName string
}

// Verifier validates a provider-issued identity token.
type Verifier interface {
	// Provider returns the registry name, e.g. "google" or "apple".
	Provider() string

	// Verify checks the raw token and returns the verified identity.
	// All failures wrap ErrTokenVerification.
	Verify(ctx context.Context, rawToken string, hints Hints) (*Identity, error)
}

// Registry holds the configured verifiers keyed by provider name.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry builds a registry from the given verifiers.
func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[string]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[v.Provider()] = v
	}
	return r
}

// Get returns the verifier for the named provider.
func (r *Registry) Get(provider string) (Verifier, error) {
	v, ok := r.verifiers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return v, nil
}
