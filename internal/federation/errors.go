package federation

import "errors"

var (
	// ErrTokenVerification covers every way a provider token can fail
	// verification: bad signature, expired, wrong audience or issuer,
	// malformed. Callers must not distinguish the causes toward clients.
	ErrTokenVerification = errors.New("provider token verification failed")

	ErrUnknownProvider = errors.New("identity provider not registered")
	ErrUnknownKey      = errors.New("signing key not present in provider JWKS")
)
