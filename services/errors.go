package services

import "errors"

var (
	// ErrEmailTaken is returned when registering with an email that already
	// has an account.
	ErrEmailTaken = errors.New("email address is already registered")

	// ErrInvalidCredentials is returned for every failed password login,
	// whether the account is unknown, has no password, or the password is
	// wrong. Callers must not distinguish these cases.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrInvalidProviderToken is returned when a social login token fails
	// verification.
	ErrInvalidProviderToken = errors.New("invalid identity provider token")

	// ErrInvalidToken is returned for refresh or logout attempts with a
	// token that maps to no active session.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidResetTicket is returned when a password reset token is
	// unknown, expired, or already used.
	ErrInvalidResetTicket = errors.New("invalid or expired reset token")
)
