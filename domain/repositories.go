package domain

import (
	"context"
	"errors"
	"time"
)

// Storage-level sentinel errors. Repositories translate driver errors into
// these so the service layer never inspects driver error types.
var (
	// ErrNotFound is returned when a record does not exist or, for
	// compare-and-swap operations, when no record matched the guard.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique index rejects an insert.
	ErrDuplicate = errors.New("record already exists")
)

// UserRepository persists accounts. Email uniqueness (case-insensitive) is
// enforced by the store; CreateUser returns ErrDuplicate on collision.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// SessionRepository persists refresh-token sessions.
type SessionRepository interface {
	StoreSession(ctx context.Context, session *Session) error
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// RevokeActiveByTokenHash atomically revokes the session whose refresh
	// token hash matches and which is still active at now. It returns the
	// session as it was before revocation, or ErrNotFound when no active
	// session matched. This single-record compare-and-swap is the anti-replay
	// guard for token rotation: under concurrent redemption exactly one
	// caller wins.
	RevokeActiveByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*Session, error)

	// RevokeSession marks the named session revoked and reports whether a
	// live session actually transitioned. Revoking an already revoked or
	// unknown session is a no-op returning false.
	RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) (bool, error)

	// RevokeAllForUser revokes every active session of the user and returns
	// the number of sessions revoked.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}

// LinkedIdentityRepository persists provider-subject bindings. Create returns
// ErrDuplicate when the (provider, provider_user_id) pair or the
// (user_id, provider) pair is already bound.
type LinkedIdentityRepository interface {
	Create(ctx context.Context, identity *LinkedIdentity) error
	GetByProviderSubject(ctx context.Context, provider, providerUserID string) (*LinkedIdentity, error)
}

// PasswordResetRepository persists one-time reset tickets.
type PasswordResetRepository interface {
	Store(ctx context.Context, ticket *PasswordResetTicket) error

	// ConsumeByTokenHash atomically marks the matching unconsumed, unexpired
	// ticket as consumed and returns it, or ErrNotFound. A ticket can be
	// consumed exactly once.
	ConsumeByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*PasswordResetTicket, error)
}

// TxRunner executes fn inside one store transaction. Operations issued with
// the context passed to fn commit or abort together. Password reset uses this
// to make "change hash + consume ticket + revoke sessions" a single atomic
// unit across server instances.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
