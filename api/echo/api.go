// Package echoapi exposes the session authority over HTTP using Echo.
package echoapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/mealtrace/mealtrace/domain"
	"github.com/mealtrace/mealtrace/dto"
	"github.com/mealtrace/mealtrace/internal/federation"
	"github.com/mealtrace/mealtrace/middleware"
	"github.com/mealtrace/mealtrace/services"
)

// AuthAPI wires the session authority to the /auth route group.
type AuthAPI struct {
	svc     *services.AuthService
	limiter *middleware.RateLimiter
}

// NewAuthAPI creates an AuthAPI.
func NewAuthAPI(svc *services.AuthService, limiter *middleware.RateLimiter) *AuthAPI {
	return &AuthAPI{svc: svc, limiter: limiter}
}

// RegisterRoutes mounts the auth endpoints on e.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/auth")

	g.POST("/register", a.register, a.limiter.Limit(middleware.PolicyRegister))
	g.POST("/login", a.login, a.limiter.Limit(middleware.PolicyLogin))
	g.POST("/google", a.googleLogin, a.limiter.Limit(middleware.PolicyGoogleLogin))
	g.POST("/apple", a.appleLogin, a.limiter.Limit(middleware.PolicyAppleLogin))
	g.POST("/refresh", a.refresh)
	g.POST("/logout", a.logout, middleware.RequireAuth(a.svc))
	g.POST("/forgot-password", a.forgotPassword, a.limiter.Limit(middleware.PolicyForgotPassword))
	g.POST("/reset-password", a.resetPassword, a.limiter.Limit(middleware.PolicyResetPassword))

	g.GET("/me", a.me, middleware.RequireAuth(a.svc))
}

func (a *AuthAPI) register(c echo.Context) error {
	var req dto.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	result, err := a.svc.Register(c.Request().Context(), req.Email, req.Password, req.DisplayName, clientInfo(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, a.authResponse(result))
}

func (a *AuthAPI) login(c echo.Context) error {
	var req dto.LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	result, err := a.svc.Login(c.Request().Context(), req.Email, req.Password, clientInfo(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, a.authResponse(result))
}

func (a *AuthAPI) googleLogin(c echo.Context) error {
	var req dto.GoogleAuthRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	result, err := a.svc.SocialLogin(c.Request().Context(), domain.ProviderGoogle, req.IDToken, federation.Hints{}, clientInfo(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, a.authResponse(result))
}

func (a *AuthAPI) appleLogin(c echo.Context) error {
	var req dto.AppleAuthRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	hints := federation.Hints{Email: req.Email, FullName: req.FullName}
	result, err := a.svc.SocialLogin(c.Request().Context(), domain.ProviderApple, req.IdentityToken, hints, clientInfo(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, a.authResponse(result))
}

func (a *AuthAPI) refresh(c echo.Context) error {
	var req dto.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	result, err := a.svc.Refresh(c.Request().Context(), req.RefreshToken, clientInfo(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, a.authResponse(result))
}

func (a *AuthAPI) logout(c echo.Context) error {
	userID, _ := c.Get(middleware.ContextKeyUserID).(string)
	sessionID, _ := c.Get(middleware.ContextKeySessionID).(string)

	if err := a.svc.Logout(c.Request().Context(), userID, sessionID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *AuthAPI) forgotPassword(c echo.Context) error {
	var req dto.ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	if err := a.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return mapServiceError(err)
	}
	// The response is identical whether or not the address has an account.
	return c.JSON(http.StatusOK, dto.MessageResponse{
		Message: "If that email address has an account, a reset link is on its way.",
	})
}

func (a *AuthAPI) resetPassword(c echo.Context) error {
	var req dto.ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(err.Error())
	}

	if err := a.svc.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, dto.MessageResponse{Message: "Password updated. Please sign in again."})
}

func (a *AuthAPI) me(c echo.Context) error {
	userID, _ := c.Get(middleware.ContextKeyUserID).(string)

	user, err := a.svc.GetUser(c.Request().Context(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, dto.UserInfoFromDomain(user))
}

func (a *AuthAPI) authResponse(result *services.AuthResult) dto.AuthResponse {
	return dto.AuthResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.svc.AccessTokenTTL().Seconds()),
		User:         dto.UserInfoFromDomain(result.User),
		Provider:     result.Provider,
		IsNewUser:    result.IsNewUser,
	}
}

func clientInfo(c echo.Context) services.ClientInfo {
	return services.ClientInfo{
		UserAgent: c.Request().UserAgent(),
		IPAddress: c.RealIP(),
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// mapServiceError translates service errors to HTTP errors. Internal details
// never reach the client.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidProviderToken),
		errors.Is(err, services.ErrInvalidToken):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, services.ErrInvalidResetTicket):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Unhandled service error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
