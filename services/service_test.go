package services

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mealtrace/mealtrace/domain"
	"github.com/mealtrace/mealtrace/internal/auth"
	"github.com/mealtrace/mealtrace/internal/federation"
	"github.com/mealtrace/mealtrace/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.InitCustomMetrics(prometheus.NewRegistry())
	os.Exit(m.Run())
}

type testEnv struct {
	svc      *AuthService
	users    *fakeUserRepo
	sessions *fakeSessionRepo
	resets   *fakeResetRepo
	notifier *captureNotifier
	verifier *fakeVerifier
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	if opts.RefreshTokenTTL == 0 {
		opts.RefreshTokenTTL = time.Hour
	}
	if opts.ResetTicketTTL == 0 {
		opts.ResetTicketTTL = 30 * time.Minute
	}

	env := &testEnv{
		users:    newFakeUserRepo(),
		sessions: newFakeSessionRepo(),
		resets:   newFakeResetRepo(),
		notifier: &captureNotifier{},
		verifier: &fakeVerifier{
			provider: domain.ProviderGoogle,
			token:    "good-google-token",
			identity: federation.Identity{
				Subject:       "google-sub-1",
				Email:         "social@example.com",
				EmailVerified: true,
				DisplayName:   "Social User",
			},
		},
	}

	svc, err := NewAuthService(
		env.users,
		env.sessions,
		newFakeIdentityRepo(),
		env.resets,
		fakeTxRunner{},
		auth.NewBcryptPasswordHasher(bcrypt.MinCost),
		NewTokenIssuer([]byte("test-secret"), "mealtrace", 15*time.Minute),
		federation.NewRegistry(env.verifier),
		env.notifier,
		opts,
	)
	require.NoError(t, err)
	env.svc = svc
	return env
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	result, err := env.svc.Register(ctx, "  New@Example.COM ", "hunter2secret", "New User", ClientInfo{})
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, "new@example.com", result.User.Email)
	assert.NotEqual(t, "hunter2secret", result.User.PasswordHash)

	// Same address in different case is the same account.
	_, err = env.svc.Register(ctx, "new@example.com", "otherpassword", "", ClientInfo{})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@example.com", "correct-password", "", ClientInfo{})
	require.NoError(t, err)

	result, err := env.svc.Login(ctx, "A@Example.com", "correct-password", ClientInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)

	// Wrong password and unknown account are the same error.
	_, wrongPassErr := env.svc.Login(ctx, "a@example.com", "wrong-password", ClientInfo{})
	_, unknownErr := env.svc.Login(ctx, "nobody@example.com", "correct-password", ClientInfo{})
	assert.ErrorIs(t, wrongPassErr, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.Equal(t, wrongPassErr, unknownErr)
}

func TestLoginSocialOnlyAccount(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token", federation.Hints{}, ClientInfo{})
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, "social@example.com", "any-password", ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.NotEqual(t, registered.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, registered.User.ID, rotated.User.ID)

	// The consumed token is dead.
	_, err = env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Under the default policy the replay does not disturb the session from
	// the first redemption.
	again, err := env.svc.Refresh(ctx, rotated.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, again.RefreshToken)
}

func TestRefreshReuseRevokesAll(t *testing.T) {
	env := newTestEnv(t, Options{ReuseRevokesAll: true})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)
	userID := registered.User.ID

	// A second device.
	other, err := env.svc.Login(ctx, "a@example.com", "password123", ClientInfo{})
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, 2, env.sessions.activeCount(userID))

	// Replaying the consumed token now burns every session of the account.
	_, err = env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 0, env.sessions.activeCount(userID))

	_, err = env.svc.Refresh(ctx, rotated.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = env.svc.Refresh(ctx, other.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshGarbageToken(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.Refresh(context.Background(), "never-issued", ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)
	userID := registered.User.ID

	claims, err := env.svc.VerifyAccessToken(registered.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, userID, claims.SessionID))
	assert.Equal(t, 0, env.sessions.activeCount(userID))

	// Logging out again, or naming a session that never existed, still
	// succeeds.
	assert.NoError(t, env.svc.Logout(ctx, userID, claims.SessionID))
	assert.NoError(t, env.svc.Logout(ctx, userID, "never-issued"))

	// The revoked session's refresh token is dead with it.
	_, err = env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSocialLogin(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// First login creates the account.
	first, err := env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token", federation.Hints{}, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, first.IsNewUser)
	assert.Equal(t, domain.ProviderGoogle, first.Provider)
	assert.Equal(t, "social@example.com", first.User.Email)
	assert.Equal(t, "Social User", first.User.DisplayName)

	// Second login resolves through the provider link.
	second, err := env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token", federation.Hints{}, ClientInfo{})
	require.NoError(t, err)
	assert.False(t, second.IsNewUser)
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestSocialLoginLinksExistingAccount(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "social@example.com", "password123", "Existing", ClientInfo{})
	require.NoError(t, err)

	result, err := env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token", federation.Hints{}, ClientInfo{})
	require.NoError(t, err)
	assert.False(t, result.IsNewUser)
	assert.Equal(t, registered.User.ID, result.User.ID)

	// Password login keeps working after linking.
	_, err = env.svc.Login(ctx, "social@example.com", "password123", ClientInfo{})
	assert.NoError(t, err)
}

func TestSocialLoginRejections(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.SocialLogin(ctx, domain.ProviderGoogle, "forged-token", federation.Hints{}, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidProviderToken)

	_, err = env.svc.SocialLogin(ctx, "myspace", "good-google-token", federation.Hints{}, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidProviderToken)
}

func TestSocialLoginHintEmailCannotClaimExistingAccount(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	victim, err := env.svc.Register(ctx, "victim@example.com", "password123", "Victim", ClientInfo{})
	require.NoError(t, err)

	// A valid token for the attacker's own provider subject, carrying no
	// email claim. The victim's address arrives only as a client hint.
	env.verifier.identity = federation.Identity{Subject: "attacker-sub"}

	_, err = env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token",
		federation.Hints{Email: "victim@example.com"}, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidProviderToken)

	// The victim's account gained no provider link; their password login is
	// untouched and the attacker subject resolves to nothing.
	_, err = env.svc.Login(ctx, "victim@example.com", "password123", ClientInfo{})
	require.NoError(t, err)
	_ = victim
}

func TestSocialLoginUnverifiedEmailCannotLink(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "victim@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)

	// Email claim present but the provider marks it unverified.
	env.verifier.identity = federation.Identity{
		Subject:       "attacker-sub",
		Email:         "victim@example.com",
		EmailVerified: false,
	}

	_, err = env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token", federation.Hints{}, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidProviderToken)
}

func TestSocialLoginUnverifiedEmailCreatesFreshAccount(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// No existing account with this address, so an unverified email may
	// still open a brand-new account.
	env.verifier.identity = federation.Identity{Subject: "apple-sub-9"}

	result, err := env.svc.SocialLogin(ctx, domain.ProviderGoogle, "good-google-token",
		federation.Hints{Email: "fresh@example.com"}, ClientInfo{})
	require.NoError(t, err)
	assert.True(t, result.IsNewUser)
	assert.Equal(t, "fresh@example.com", result.User.Email)
}

func TestSocialLoginWithoutEmail(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.verifier.identity.Email = ""

	// No email claim and no hint leaves nothing to anchor an account to.
	_, err := env.svc.SocialLogin(context.Background(), domain.ProviderGoogle, "good-google-token", federation.Hints{}, ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidProviderToken)
}

func TestForgotPassword(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, env.svc.ForgotPassword(ctx, "A@example.com"))
	require.Len(t, env.notifier.tokens, 1)
	assert.Equal(t, "a@example.com", env.notifier.emails[0])

	// Unknown addresses succeed without dispatching anything.
	require.NoError(t, env.svc.ForgotPassword(ctx, "nobody@example.com"))
	assert.Len(t, env.notifier.tokens, 1)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "a@example.com", "old-password1", "", ClientInfo{})
	require.NoError(t, err)

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@example.com"))
	require.Len(t, env.notifier.tokens, 1)
	resetToken := env.notifier.tokens[0]

	require.NoError(t, env.svc.ResetPassword(ctx, resetToken, "new-password1"))

	// Old sessions are gone, the old password is gone, the new one works.
	assert.Equal(t, 0, env.sessions.activeCount(registered.User.ID))
	_, err = env.svc.Login(ctx, "a@example.com", "old-password1", ClientInfo{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = env.svc.Login(ctx, "a@example.com", "new-password1", ClientInfo{})
	assert.NoError(t, err)

	// The ticket is single use.
	err = env.svc.ResetPassword(ctx, resetToken, "another-password1")
	assert.ErrorIs(t, err, ErrInvalidResetTicket)
}

func TestResetPasswordBadToken(t *testing.T) {
	env := newTestEnv(t, Options{})

	err := env.svc.ResetPassword(context.Background(), "never-issued", "new-password1")
	assert.ErrorIs(t, err, ErrInvalidResetTicket)
}

func TestResetPasswordExpiredTicket(t *testing.T) {
	env := newTestEnv(t, Options{ResetTicketTTL: time.Nanosecond})
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "a@example.com", "old-password1", "", ClientInfo{})
	require.NoError(t, err)
	require.NoError(t, env.svc.ForgotPassword(ctx, "a@example.com"))
	require.Len(t, env.notifier.tokens, 1)

	time.Sleep(5 * time.Millisecond)
	err = env.svc.ResetPassword(ctx, env.notifier.tokens[0], "new-password1")
	assert.ErrorIs(t, err, ErrInvalidResetTicket)
}

func TestSessionActive(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)

	claims, err := env.svc.VerifyAccessToken(registered.AccessToken)
	require.NoError(t, err)

	active, err := env.svc.SessionActive(ctx, claims.SessionID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, env.svc.Logout(ctx, registered.User.ID, claims.SessionID))
	active, err = env.svc.SessionActive(ctx, claims.SessionID)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = env.svc.SessionActive(ctx, "no-such-session")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestActiveSessionsGaugeBalance(t *testing.T) {
	env := newTestEnv(t, Options{ReuseRevokesAll: true})
	ctx := context.Background()
	base := testutil.ToFloat64(metrics.ActiveSessionsGauge)

	registered, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.ActiveSessionsGauge))

	// Rotation retires one session and issues one; net zero.
	rotated, err := env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.ActiveSessionsGauge))

	claims, err := env.svc.VerifyAccessToken(rotated.AccessToken)
	require.NoError(t, err)
	require.NoError(t, env.svc.Logout(ctx, registered.User.ID, claims.SessionID))
	assert.Equal(t, base, testutil.ToFloat64(metrics.ActiveSessionsGauge))

	// Repeat logout is a no-op and must not drive the gauge negative.
	require.NoError(t, env.svc.Logout(ctx, registered.User.ID, claims.SessionID))
	assert.Equal(t, base, testutil.ToFloat64(metrics.ActiveSessionsGauge))
}

func TestActiveSessionsGaugeOnBulkRevocation(t *testing.T) {
	env := newTestEnv(t, Options{ReuseRevokesAll: true})
	ctx := context.Background()
	base := testutil.ToFloat64(metrics.ActiveSessionsGauge)

	registered, err := env.svc.Register(ctx, "a@example.com", "password123", "", ClientInfo{})
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "a@example.com", "password123", ClientInfo{})
	require.NoError(t, err)
	rotated, err := env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, base+2, testutil.ToFloat64(metrics.ActiveSessionsGauge))

	// Replay trips revoke-all; both remaining sessions leave the gauge.
	_, err = env.svc.Refresh(ctx, registered.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, base, testutil.ToFloat64(metrics.ActiveSessionsGauge))
	_ = rotated
}

func TestActiveSessionsGaugeOnPasswordReset(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	base := testutil.ToFloat64(metrics.ActiveSessionsGauge)

	_, err := env.svc.Register(ctx, "a@example.com", "old-password1", "", ClientInfo{})
	require.NoError(t, err)
	_, err = env.svc.Login(ctx, "a@example.com", "old-password1", ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, base+2, testutil.ToFloat64(metrics.ActiveSessionsGauge))

	require.NoError(t, env.svc.ForgotPassword(ctx, "a@example.com"))
	require.Len(t, env.notifier.tokens, 1)
	require.NoError(t, env.svc.ResetPassword(ctx, env.notifier.tokens[0], "new-password1"))
	assert.Equal(t, base, testutil.ToFloat64(metrics.ActiveSessionsGauge))
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	registered, err := env.svc.Register(ctx, "flow@example.com", "password123", "Flow", ClientInfo{UserAgent: "test-agent", IPAddress: "203.0.113.9"})
	require.NoError(t, err)

	_, err = env.svc.Login(ctx, "flow@example.com", "nope", ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	loggedIn, err := env.svc.Login(ctx, "flow@example.com", "password123", ClientInfo{})
	require.NoError(t, err)

	rotated, err := env.svc.Refresh(ctx, loggedIn.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	_, err = env.svc.Refresh(ctx, loggedIn.RefreshToken, ClientInfo{})
	require.ErrorIs(t, err, ErrInvalidToken)

	rotatedClaims, err := env.svc.VerifyAccessToken(rotated.AccessToken)
	require.NoError(t, err)
	registeredClaims, err := env.svc.VerifyAccessToken(registered.AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, registered.User.ID, rotatedClaims.SessionID))
	require.NoError(t, env.svc.Logout(ctx, registered.User.ID, registeredClaims.SessionID))
	assert.Equal(t, 0, env.sessions.activeCount(registered.User.ID))
}
