// Package dto defines the JSON request and response shapes of the auth API.
package dto

import (
	"errors"
	"net/mail"
	"time"

	"github.com/mealtrace/mealtrace/domain"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

var (
	errEmailRequired    = errors.New("email is required")
	errEmailInvalid     = errors.New("email address is not valid")
	errPasswordRequired = errors.New("password is required")
	errPasswordLength   = errors.New("password must be 8 to 128 characters")
	errTokenRequired    = errors.New("token is required")
)

func validateEmail(email string) error {
	if email == "" {
		return errEmailRequired
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errEmailInvalid
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return errPasswordRequired
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return errPasswordLength
	}
	return nil
}

// RegisterRequest creates a password account.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

func (r *RegisterRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	return validatePassword(r.Password)
}

// LoginRequest authenticates an email/password pair.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return errPasswordRequired
	}
	return nil
}

// GoogleAuthRequest signs in with a Google ID token.
type GoogleAuthRequest struct {
	IDToken string `json:"idToken"`
}

func (r *GoogleAuthRequest) Validate() error {
	if r.IDToken == "" {
		return errTokenRequired
	}
	return nil
}

// AppleAuthRequest signs in with an Apple identity token. Email and FullName
// are only present in Apple's first authorization for an account; the client
// forwards them because later tokens omit them.
type AppleAuthRequest struct {
	IdentityToken     string `json:"identityToken"`
	AuthorizationCode string `json:"authorizationCode,omitempty"`
	Email             string `json:"email,omitempty"`
	FullName          string `json:"fullName,omitempty"`
}

func (r *AppleAuthRequest) Validate() error {
	if r.IdentityToken == "" {
		return errTokenRequired
	}
	return nil
}

// RefreshRequest rotates a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r *RefreshRequest) Validate() error {
	if r.RefreshToken == "" {
		return errTokenRequired
	}
	return nil
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r *ForgotPasswordRequest) Validate() error {
	return validateEmail(r.Email)
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (r *ResetPasswordRequest) Validate() error {
	if r.Token == "" {
		return errTokenRequired
	}
	return validatePassword(r.NewPassword)
}

// UserInfo is the public view of an account.
type UserInfo struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserInfoFromDomain converts a domain user to its API shape.
func UserInfoFromDomain(u *domain.User) UserInfo {
	return UserInfo{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		CreatedAt:   u.CreatedAt,
	}
}

// AuthResponse is returned by every endpoint that establishes a session.
type AuthResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ExpiresIn    int64    `json:"expiresIn"`
	User         UserInfo `json:"user"`
	Provider     string   `json:"provider,omitempty"`
	IsNewUser    bool     `json:"isNewUser,omitempty"`
}

// MessageResponse carries a human-readable outcome for endpoints that return
// no session.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
