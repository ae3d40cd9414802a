package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RatePolicy caps requests per client IP within a fixed window.
type RatePolicy struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Per-endpoint policies. Refresh and logout are deliberately unthrottled;
// their tokens are single use and unguessable.
var (
	PolicyRegister       = RatePolicy{Name: "register", Limit: 5, Window: 15 * time.Minute}
	PolicyLogin          = RatePolicy{Name: "login", Limit: 10, Window: time.Minute}
	PolicyGoogleLogin    = RatePolicy{Name: "google", Limit: 10, Window: time.Minute}
	PolicyAppleLogin     = RatePolicy{Name: "apple", Limit: 10, Window: time.Minute}
	PolicyForgotPassword = RatePolicy{Name: "forgot_password", Limit: 3, Window: 15 * time.Minute}
	PolicyResetPassword  = RatePolicy{Name: "reset_password", Limit: 5, Window: time.Hour}
)

// WindowCounter is the slice of the Redis API the limiter drives.
// *redis.Client satisfies it.
type WindowCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimiter enforces fixed-window limits backed by Redis, so the limits
// hold across server instances. When Redis is unreachable the limiter fails
// open; authentication availability wins over throttling accuracy.
type RateLimiter struct {
	counter WindowCounter
	enabled bool
}

// NewRateLimiter creates a RateLimiter. A nil counter or enabled=false turns
// limiting off.
func NewRateLimiter(counter WindowCounter, enabled bool) *RateLimiter {
	return &RateLimiter{counter: counter, enabled: enabled && counter != nil}
}

// Limit returns middleware enforcing the given policy.
func (rl *RateLimiter) Limit(policy RatePolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.enabled {
				return next(c)
			}

			ctx := c.Request().Context()
			now := time.Now()
			windowStart := now.Truncate(policy.Window)
			key := fmt.Sprintf("ratelimit:%s:%d:%s", policy.Name, windowStart.Unix(), c.RealIP())

			count, err := rl.counter.Incr(ctx, key).Result()
			if err != nil {
				log.Warn().Err(err).Str("policy", policy.Name).Msg("Rate limit check failed, allowing request")
				return next(c)
			}
			if count == 1 {
				// First hit creates the key; bound its lifetime to the window.
				if err := rl.counter.Expire(ctx, key, policy.Window).Err(); err != nil {
					log.Warn().Err(err).Str("policy", policy.Name).Msg("Failed to set rate limit key expiry")
				}
			}

			if count > policy.Limit {
				retryAfter := windowStart.Add(policy.Window).Sub(now)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")
			}
			return next(c)
		}
	}
}
