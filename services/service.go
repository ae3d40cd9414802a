// Package services holds the session authority: account registration,
// password and social login, refresh token rotation, logout and password
// reset. All persistence goes through the domain repository interfaces.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mealtrace/mealtrace/cache"
	"github.com/mealtrace/mealtrace/domain"
	"github.com/mealtrace/mealtrace/internal/auth"
	"github.com/mealtrace/mealtrace/internal/federation"
	"github.com/mealtrace/mealtrace/internal/metrics"
	"github.com/mealtrace/mealtrace/internal/notify"
)

// Options carries the tunable policy knobs of the session authority.
type Options struct {
	RefreshTokenTTL time.Duration
	ResetTicketTTL  time.Duration

	// ReuseRevokesAll widens the response to refresh token replay from
	// rejecting the request to revoking every session of the account.
	ReuseRevokesAll bool
}

// AuthResult is returned by every operation that establishes a session.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	User         *domain.User
	Provider     string
	IsNewUser    bool
}

// ClientInfo describes the device a session is issued to.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// AuthService implements the session authority on top of the repositories.
type AuthService struct {
	users      domain.UserRepository
	sessions   domain.SessionRepository
	identities domain.LinkedIdentityRepository
	resets     domain.PasswordResetRepository
	tx         domain.TxRunner
	hasher     auth.PasswordHasher
	tokens     *TokenIssuer
	providers  *federation.Registry
	notifier   notify.Notifier
	opts       Options

	// dummyHash is compared against on unknown-email and passwordless-account
	// logins so both paths cost a real bcrypt verification.
	dummyHash string
}

// NewAuthService wires up an AuthService.
func NewAuthService(
	users domain.UserRepository,
	sessions domain.SessionRepository,
	identities domain.LinkedIdentityRepository,
	resets domain.PasswordResetRepository,
	tx domain.TxRunner,
	hasher auth.PasswordHasher,
	tokens *TokenIssuer,
	providers *federation.Registry,
	notifier notify.Notifier,
	opts Options,
) (*AuthService, error) {
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy password hash: %w", err)
	}

	return &AuthService{
		users:      users,
		sessions:   sessions,
		identities: identities,
		resets:     resets,
		tx:         tx,
		hasher:     hasher,
		tokens:     tokens,
		providers:  providers,
		notifier:   notifier,
		opts:       opts,
		dummyHash:  dummyHash,
	}, nil
}

// Register creates a password account and opens its first session.
func (s *AuthService) Register(ctx context.Context, email, password, displayName string, client ClientInfo) (*AuthResult, error) {
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Email:        domain.NormalizeEmail(email),
		PasswordHash: passwordHash,
		DisplayName:  displayName,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	metrics.RegistrationsTotal.Inc()
	log.Info().Str("userID", user.ID).Msg("Account registered")

	result, err := s.issueSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	result.IsNewUser = true
	return result, nil
}

// Login authenticates an email/password pair. Every failure mode returns the
// same ErrInvalidCredentials, and each path pays for a hash comparison so the
// response does not reveal whether the account exists.
func (s *AuthService) Login(ctx context.Context, email, password string, client ClientInfo) (*AuthResult, error) {
	user, err := s.users.GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.hasher.Verify(s.dummyHash, password)
			metrics.LoginFailureTotal.Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !user.HasPassword() {
		// Social-only account, indistinguishable from a wrong password.
		_ = s.hasher.Verify(s.dummyHash, password)
		metrics.LoginFailureTotal.Inc()
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		metrics.LoginFailureTotal.Inc()
		return nil, ErrInvalidCredentials
	}

	metrics.LoginSuccessTotal.Inc()
	return s.issueSession(ctx, user, client)
}

// SocialLogin verifies a provider identity token and resolves it to a local
// account, creating the account or the provider link as needed.
func (s *AuthService) SocialLogin(ctx context.Context, provider, rawToken string, hints federation.Hints, client ClientInfo) (*AuthResult, error) {
	verifier, err := s.providers.Get(provider)
	if err != nil {
		return nil, ErrInvalidProviderToken
	}

	identity, err := verifier.Verify(ctx, rawToken, hints)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Identity token verification failed")
		return nil, ErrInvalidProviderToken
	}

	user, isNew, err := s.resolveIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	metrics.SocialLoginTotal.WithLabelValues(provider).Inc()
	log.Info().Str("provider", provider).Str("userID", user.ID).Bool("newUser", isNew).Msg("Social login")

	result, err := s.issueSession(ctx, user, client)
	if err != nil {
		return nil, err
	}
	result.Provider = provider
	result.IsNewUser = isNew
	return result, nil
}

// resolveIdentity maps a verified provider identity to a local user.
// Resolution order: existing provider link, then email match, then a fresh
// account. Uniqueness races with concurrent logins of the same identity are
// settled by the unique indexes and resolved by re-reading.
func (s *AuthService) resolveIdentity(ctx context.Context, identity *federation.Identity) (*domain.User, bool, error) {
	link, err := s.identities.GetByProviderSubject(ctx, identity.Provider, identity.Subject)
	if err == nil {
		user, err := s.users.GetUserByID(ctx, link.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load linked user: %w", err)
		}
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up provider link: %w", err)
	}

	// No link yet. Without an email there is nothing to anchor the account to.
	if identity.Email == "" {
		log.Warn().Str("provider", identity.Provider).Msg("Identity token carries no email, cannot resolve account")
		return nil, false, ErrInvalidProviderToken
	}

	email := domain.NormalizeEmail(identity.Email)
	isNew := false

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		// Attaching the provider to an existing account hands out that
		// account's sessions, so it demands an email the provider actually
		// attested to. A hint-sourced or unverified address here would let
		// anyone with their own valid token claim someone else's account.
		if !identity.EmailVerified {
			log.Warn().Str("provider", identity.Provider).Str("userID", user.ID).Msg("Refusing to link unverified email to existing account")
			return nil, false, ErrInvalidProviderToken
		}
	case errors.Is(err, domain.ErrNotFound):
		user = &domain.User{
			Email:       email,
			DisplayName: identity.DisplayName,
			PhotoURL:    identity.PhotoURL,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				// Lost a race with a concurrent signup for the same email.
				user, err = s.users.GetUserByEmail(ctx, email)
				if err != nil {
					return nil, false, fmt.Errorf("failed to reload user after create race: %w", err)
				}
			} else {
				return nil, false, fmt.Errorf("failed to create user: %w", err)
			}
		} else {
			isNew = true
			metrics.RegistrationsTotal.Inc()
		}
	default:
		return nil, false, fmt.Errorf("failed to look up user by email: %w", err)
	}

	newLink := &domain.LinkedIdentity{
		UserID:         user.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.Subject,
		Email:          identity.Email,
		DisplayName:    identity.DisplayName,
		PhotoURL:       identity.PhotoURL,
	}
	if err := s.identities.Create(ctx, newLink); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// A concurrent login linked this subject first; follow its link.
			link, err := s.identities.GetByProviderSubject(ctx, identity.Provider, identity.Subject)
			if err != nil {
				return nil, false, fmt.Errorf("failed to reload provider link after race: %w", err)
			}
			user, err := s.users.GetUserByID(ctx, link.UserID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load linked user: %w", err)
			}
			return user, false, nil
		}
		return nil, false, fmt.Errorf("failed to create provider link: %w", err)
	}

	return user, isNew, nil
}

// Refresh rotates a refresh token: the presented token's session is revoked
// and a new session is issued in one step. A token that no longer maps to an
// active session is rejected; if it maps to a revoked one, that is a replay.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*AuthResult, error) {
	tokenHash := cache.HashToken(refreshToken)
	now := time.Now().UTC()

	old, err := s.sessions.RevokeActiveByTokenHash(ctx, tokenHash, now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.handleRefreshMiss(ctx, tokenHash, now)
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}
	// The rotated-out session just left the active set; its replacement is
	// counted when issued.
	metrics.ActiveSessionsGauge.Dec()

	user, err := s.users.GetUserByID(ctx, old.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	metrics.TokensRefreshedTotal.Inc()
	return s.issueSession(ctx, user, client)
}

// handleRefreshMiss classifies a failed rotation. A revoked session under the
// same hash means the token was redeemed before, i.e. stolen-or-buggy-client
// replay.
func (s *AuthService) handleRefreshMiss(ctx context.Context, tokenHash string, now time.Time) {
	session, err := s.sessions.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return
	}
	if session.RevokedAt == nil {
		// Session exists but expired naturally, not a replay.
		return
	}

	metrics.RefreshReplayTotal.Inc()
	log.Warn().Str("userID", session.UserID).Str("sessionID", session.ID).Msg("Revoked refresh token presented again")

	if s.opts.ReuseRevokesAll {
		count, err := s.sessions.RevokeAllForUser(ctx, session.UserID, now)
		if err != nil {
			log.Error().Err(err).Str("userID", session.UserID).Msg("Failed to revoke sessions after token reuse")
			return
		}
		metrics.ActiveSessionsGauge.Sub(float64(count))
		log.Warn().Str("userID", session.UserID).Int64("revoked", count).Msg("All sessions revoked after refresh token reuse")
	}
}

// Logout revokes the caller's session. Logging out an already-revoked or
// unknown session succeeds; the end state is the same.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	revoked, err := s.sessions.RevokeSession(ctx, userID, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if revoked {
		metrics.ActiveSessionsGauge.Dec()
	}
	return nil
}

// ForgotPassword issues a reset ticket and hands the plaintext token to the
// notifier. Unknown emails succeed without side effects so the endpoint does
// not disclose which addresses have accounts.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug().Msg("Password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("failed to look up user: %w", err)
	}

	token, err := NewOpaqueToken()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ticket := &domain.PasswordResetTicket{
		UserID:    user.ID,
		TokenHash: cache.HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.ResetTicketTTL),
	}
	if err := s.resets.Store(ctx, ticket); err != nil {
		return fmt.Errorf("failed to store reset ticket: %w", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, token); err != nil {
		return fmt.Errorf("failed to dispatch reset notification: %w", err)
	}
	return nil
}

// ResetPassword redeems a reset ticket: the ticket is consumed, the password
// replaced and every session of the account revoked, all in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	tokenHash := cache.HashToken(token)
	now := time.Now().UTC()

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	var (
		userID  string
		revoked int64
	)
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		ticket, err := s.resets.ConsumeByTokenHash(ctx, tokenHash, now)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return ErrInvalidResetTicket
			}
			return fmt.Errorf("failed to consume reset ticket: %w", err)
		}
		userID = ticket.UserID

		if err := s.users.UpdatePasswordHash(ctx, ticket.UserID, newHash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		revoked, err = s.sessions.RevokeAllForUser(ctx, ticket.UserID, now)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ActiveSessionsGauge.Sub(float64(revoked))
	metrics.PasswordResetsTotal.Inc()
	log.Info().Str("userID", userID).Msg("Password reset completed, all sessions revoked")
	return nil
}

// GetUser loads the account behind an authenticated request.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The account vanished under a live session.
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.tokens.ttl
}

// VerifyAccessToken exposes access token validation to transport middleware.
func (s *AuthService) VerifyAccessToken(rawToken string) (*AccessClaims, error) {
	claims, err := s.tokens.VerifyAccessToken(rawToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SessionActive reports whether the named session is still live. Used by the
// auth middleware so revocation takes effect before the access token expires.
func (s *AuthService) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	session, err := s.sessions.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load session: %w", err)
	}
	return session.Active(time.Now().UTC()), nil
}

// issueSession opens a new session for the user and mints its token pair.
func (s *AuthService) issueSession(ctx context.Context, user *domain.User, client ClientInfo) (*AuthResult, error) {
	refreshToken, err := NewOpaqueToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		RefreshTokenHash: cache.HashToken(refreshToken),
		UserAgent:        client.UserAgent,
		IPAddress:        client.IPAddress,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.opts.RefreshTokenTTL),
	}
	if err := s.sessions.StoreSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	accessToken, err := s.tokens.IssueAccessToken(user.ID, session.ID, user.Email, now)
	if err != nil {
		return nil, err
	}

	metrics.ActiveSessionsGauge.Inc()
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, nil
}
