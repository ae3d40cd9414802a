package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mealtrace/mealtrace/domain"
	"github.com/mealtrace/mealtrace/internal/federation"
)

// In-memory repository fakes. They enforce the same uniqueness rules as the
// MongoDB implementations so the service's race handling can be exercised.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User // by ID
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return domain.ErrDuplicate
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session // by ID
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *fakeSessionRepo) StoreSession(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	for _, s := range r.sessions {
		if s.RefreshTokenHash == session.RefreshTokenHash {
			return domain.ErrDuplicate
		}
	}
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSessionRepo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSessionRepo) RevokeActiveByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == tokenHash && s.RevokedAt == nil && now.Before(s.ExpiresAt) {
			before := *s
			revokedAt := now
			s.RevokedAt = &revokedAt
			return &before, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeSessionRepo) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID || s.RevokedAt != nil {
		return false, nil
	}
	revokedAt := now
	s.RevokedAt = &revokedAt
	return true, nil
}

func (r *fakeSessionRepo) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			revokedAt := now
			s.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

func (r *fakeSessionRepo) activeCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active(now) {
			n++
		}
	}
	return n
}

type fakeIdentityRepo struct {
	mu    sync.Mutex
	links map[string]*domain.LinkedIdentity // by provider+"|"+subject
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{links: make(map[string]*domain.LinkedIdentity)}
}

func (r *fakeIdentityRepo) Create(ctx context.Context, identity *domain.LinkedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := identity.Provider + "|" + identity.ProviderUserID
	if _, ok := r.links[key]; ok {
		return domain.ErrDuplicate
	}
	for _, l := range r.links {
		if l.UserID == identity.UserID && l.Provider == identity.Provider {
			return domain.ErrDuplicate
		}
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.CreatedAt = time.Now().UTC()
	cp := *identity
	r.links[key] = &cp
	return nil
}

func (r *fakeIdentityRepo) GetByProviderSubject(ctx context.Context, provider, providerUserID string) (*domain.LinkedIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[provider+"|"+providerUserID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

type fakeResetRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.PasswordResetTicket // by token hash
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{tickets: make(map[string]*domain.PasswordResetTicket)}
}

func (r *fakeResetRepo) Store(ctx context.Context, ticket *domain.PasswordResetTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.TokenHash]; ok {
		return domain.ErrDuplicate
	}
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	cp := *ticket
	r.tickets[ticket.TokenHash] = &cp
	return nil
}

func (r *fakeResetRepo) ConsumeByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.PasswordResetTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[tokenHash]
	if !ok || t.ConsumedAt != nil || !now.Before(t.ExpiresAt) {
		return nil, domain.ErrNotFound
	}
	consumedAt := now
	t.ConsumedAt = &consumedAt
	cp := *t
	return &cp, nil
}

// fakeTxRunner runs fn directly. The fakes mutate shared maps, so there is
// nothing to commit or roll back.
type fakeTxRunner struct{}

func (fakeTxRunner) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeVerifier returns a canned identity for one specific token value.
type fakeVerifier struct {
	provider string
	token    string
	identity federation.Identity
}

func (v *fakeVerifier) Provider() string { return v.provider }

func (v *fakeVerifier) Verify(ctx context.Context, rawToken string, hints federation.Hints) (*federation.Identity, error) {
	if rawToken != v.token {
		return nil, federation.ErrTokenVerification
	}
	identity := v.identity
	identity.Provider = v.provider
	if identity.Email == "" {
		// Mirrors the Apple first-auth fallback: a hint-sourced email is
		// never attested by the token.
		identity.Email = hints.Email
		identity.EmailVerified = false
	}
	if identity.DisplayName == "" {
		identity.DisplayName = hints.FullName
	}
	return &identity, nil
}

// captureNotifier records the reset tokens handed to it.
type captureNotifier struct {
	mu     sync.Mutex
	emails []string
	tokens []string
}

func (n *captureNotifier) SendPasswordReset(ctx context.Context, email, resetToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, email)
	n.tokens = append(n.tokens, resetToken)
	return nil
}
