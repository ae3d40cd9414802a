package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWindowCounter backs the limiter with a plain map and records the keys
// and expiries it is driven with.
type fakeWindowCounter struct {
	counts   map[string]int64
	expiries map[string]time.Duration
	incrErr  error
}

func newFakeWindowCounter() *fakeWindowCounter {
	return &fakeWindowCounter{
		counts:   make(map[string]int64),
		expiries: make(map[string]time.Duration),
	}
}

func (f *fakeWindowCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeWindowCounter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expiries[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func hit(rl *RateLimiter, policy RatePolicy, remoteAddr string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := rl.Limit(policy)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return rec, handler(c)
}

func TestRateLimiterEnforcesLimit(t *testing.T) {
	counter := newFakeWindowCounter()
	rl := NewRateLimiter(counter, true)
	policy := RatePolicy{Name: "login", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		rec, err := hit(rl, policy, "203.0.113.1:4000")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	// Fourth request in the same window breaches the limit.
	rec, err := hit(rl, policy, "203.0.113.1:4000")
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)

	retryAfter := rec.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	assert.NotEqual(t, "0", retryAfter)
}

func TestRateLimiterKeysByClientIP(t *testing.T) {
	counter := newFakeWindowCounter()
	rl := NewRateLimiter(counter, true)
	policy := RatePolicy{Name: "login", Limit: 1, Window: time.Minute}

	rec, err := hit(rl, policy, "203.0.113.1:4000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A different client is not throttled by the first one's traffic.
	rec, err = hit(rl, policy, "203.0.113.2:4000")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = hit(rl, policy, "203.0.113.1:4000")
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)

	assert.Len(t, counter.counts, 2)
	for key := range counter.counts {
		assert.Contains(t, key, "ratelimit:login:")
	}
}

func TestRateLimiterBoundsKeyLifetime(t *testing.T) {
	counter := newFakeWindowCounter()
	rl := NewRateLimiter(counter, true)
	policy := RatePolicy{Name: "register", Limit: 5, Window: 15 * time.Minute}

	_, err := hit(rl, policy, "203.0.113.1:4000")
	require.NoError(t, err)
	_, err = hit(rl, policy, "203.0.113.1:4000")
	require.NoError(t, err)

	// Expiry is set once, when the window key is created.
	require.Len(t, counter.expiries, 1)
	for _, ttl := range counter.expiries {
		assert.Equal(t, 15*time.Minute, ttl)
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	counter := newFakeWindowCounter()
	counter.incrErr = errors.New("connection refused")
	rl := NewRateLimiter(counter, true)
	policy := RatePolicy{Name: "login", Limit: 1, Window: time.Minute}

	// Redis being down must not lock anyone out.
	for i := 0; i < 5; i++ {
		rec, err := hit(rl, policy, "203.0.113.1:4000")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	// No counter means the limiter is a pass-through.
	rl := NewRateLimiter(nil, true)

	for i := 0; i < 20; i++ {
		rec, err := hit(rl, PolicyLogin, "203.0.113.1:4000")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
