// Package middleware provides the Echo middleware of the auth backend.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mealtrace/mealtrace/services"
)

// Context keys set by RequireAuth.
const (
	ContextKeyUserID    = "user_id"
	ContextKeySessionID = "session_id"
	ContextKeyUserEmail = "user_email"
)

// SessionAuthority is the slice of the auth service the middleware needs.
type SessionAuthority interface {
	VerifyAccessToken(rawToken string) (*services.AccessClaims, error)
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

// RequireAuth returns middleware that accepts only requests carrying a valid
// bearer access token whose session is still live. Session liveness is checked
// on every request so logout and resets take effect before the token expires.
func RequireAuth(authority SessionAuthority) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawToken, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := authority.VerifyAccessToken(rawToken)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid access token")
			}

			active, err := authority.SessionActive(c.Request().Context(), claims.SessionID)
			if err != nil {
				log.Error().Err(err).Msg("Session liveness check failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}
			if !active {
				return echo.NewHTTPError(http.StatusUnauthorized, "session revoked or expired")
			}

			c.Set(ContextKeyUserID, claims.Subject)
			c.Set(ContextKeySessionID, claims.SessionID)
			c.Set(ContextKeyUserEmail, claims.Email)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
